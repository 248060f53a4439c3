package index

import (
	"fmt"
	"strings"

	"aeroquery/internal/cdt"
	"aeroquery/internal/qualifier"
)

// Type is the value type a secondary index holds.
type Type int

const (
	TypeNumeric Type = iota + 1
	TypeString
	TypeGeo2DSphere
	TypeBlob
)

func (t Type) String() string {
	switch t {
	case TypeNumeric:
		return "numeric"
	case TypeString:
		return "string"
	case TypeGeo2DSphere:
		return "geo2dsphere"
	case TypeBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// ParseType accepts both the current lower-case names and the upper-case
// names reported by older servers.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "numeric":
		return TypeNumeric, nil
	case "string":
		return TypeString, nil
	case "geo2dsphere", "geojson":
		return TypeGeo2DSphere, nil
	case "blob":
		return TypeBlob, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
}

// TypeForValue returns the index type able to serve a qualifier value.
func TypeForValue(k qualifier.Kind) (Type, bool) {
	switch k {
	case qualifier.KindInt:
		return TypeNumeric, true
	case qualifier.KindString:
		return TypeString, true
	case qualifier.KindGeoJSON:
		return TypeGeo2DSphere, true
	case qualifier.KindBytes:
		return TypeBlob, true
	default:
		return 0, false
	}
}

// ParseCollection maps the server's indextype field. "none" is what older
// servers report for a default index.
func ParseCollection(s string) (qualifier.Collection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default", "none":
		return qualifier.CollectionDefault, nil
	case "list":
		return qualifier.CollectionList, nil
	case "mapkeys":
		return qualifier.CollectionMapKeys, nil
	case "mapvalues":
		return qualifier.CollectionMapValues, nil
	default:
		return 0, fmt.Errorf("%w: collection %q", ErrMalformedEntry, s)
	}
}

// Metadata describes one secondary index. Values are immutable once
// published in a snapshot.
type Metadata struct {
	Name       string
	Namespace  string
	Set        string // empty for a namespace-wide index
	Bin        string
	Type       Type
	Collection qualifier.Collection
	Context    cdt.Context

	// CardinalityRatio is the server's entries_per_bval statistic, or 0
	// when it was not fetched.
	CardinalityRatio int64
}

// Key returns the lookup key this index answers.
func (m Metadata) Key() Key {
	return Key{
		Namespace:  m.Namespace,
		Set:        m.Set,
		Bin:        m.Bin,
		Context:    m.Context,
		Type:       m.Type,
		Collection: m.Collection,
	}
}

func (m Metadata) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s.%s.%s", m.Name, m.Namespace, setOrDash(m.Set), m.Bin)
	if len(m.Context) > 0 {
		sb.WriteString(m.Context.String())
	}
	fmt.Fprintf(&sb, " %s/%s", m.Type, m.Collection)
	return sb.String()
}

func setOrDash(set string) string {
	if set == "" {
		return "-"
	}
	return set
}

// Key identifies the index a query predicate needs. A zero Type matches
// any index type; Collection always matches exactly.
type Key struct {
	Namespace  string
	Set        string
	Bin        string
	Context    cdt.Context
	Type       Type
	Collection qualifier.Collection
}

// location is the snapshot map key: everything but type and collection.
func location(ns, set, bin string, ctx cdt.Context) string {
	return ns + "\x00" + set + "\x00" + bin + "\x00" + ctx.Key()
}
