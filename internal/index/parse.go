package index

import (
	"fmt"
	"strconv"
	"strings"

	"aeroquery/internal/cdt"
)

// Info commands issued by the cache.
const (
	CommandList = "sindex-list:"
	statPrefix  = "sindex-stat:"
)

// StatCommand returns the info command reporting statistics of one index.
func StatCommand(namespace, name string) string {
	return statPrefix + "namespace=" + namespace + ";indexname=" + name
}

// ParseList parses a sindex-list response. Entries that cannot be parsed
// are returned in skipped, each error naming the entry; an empty response
// yields no entries.
//
// Current servers report
//
//	ns=test:indexname=idx_age:set=demo:bin=age:type=numeric:indextype=default:context=NULL:state=RW
//
// while older ones use bins= and upper-case types. Both are accepted.
func ParseList(resp string) (entries []Metadata, skipped []error) {
	for raw := range strings.SplitSeq(strings.TrimSpace(resp), ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		md, err := ParseEntry(raw)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("%q: %w", raw, err))
			continue
		}
		entries = append(entries, md)
	}
	return entries, skipped
}

// ParseEntry parses one colon-separated sindex-list entry. Entries whose
// state is present and not RW fail with ErrNotReadable.
func ParseEntry(raw string) (Metadata, error) {
	fields := parseFields(raw, ":")

	if state, ok := fields["state"]; ok && !strings.EqualFold(state, "RW") {
		return Metadata{}, fmt.Errorf("%w: state %s", ErrNotReadable, state)
	}

	md := Metadata{
		Name:      fields["indexname"],
		Namespace: fields["ns"],
		Set:       nullable(fields["set"]),
		Bin:       nullable(fields["bin"]),
	}
	if md.Bin == "" {
		md.Bin = nullable(fields["bins"])
	}
	if md.Name == "" || md.Namespace == "" || md.Bin == "" {
		return Metadata{}, fmt.Errorf("%w: missing ns, indexname or bin", ErrMalformedEntry)
	}

	t, err := ParseType(fields["type"])
	if err != nil {
		return Metadata{}, err
	}
	md.Type = t

	coll, err := ParseCollection(fields["indextype"])
	if err != nil {
		return Metadata{}, err
	}
	md.Collection = coll

	ctx, err := cdt.Decode(fields["context"])
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", ErrMalformedEntry, err)
	}
	md.Context = ctx
	return md, nil
}

// ParseCardinality extracts entries_per_bval from a sindex-stat response.
func ParseCardinality(resp string) (int64, bool) {
	v, ok := parseFields(resp, ";")["entries_per_bval"]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseFields splits "k=v<sep>k=v". Only the first '=' separates key from
// value so base64 padding survives.
func parseFields(s, sep string) map[string]string {
	out := make(map[string]string)
	for part := range strings.SplitSeq(s, sep) {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

func nullable(s string) string {
	if strings.EqualFold(s, "null") {
		return ""
	}
	return s
}
