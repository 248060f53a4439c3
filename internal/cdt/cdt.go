// Package cdt models collection navigation paths ("contexts") into list and
// map bins. A context selects the nested element a secondary index or a
// predicate applies to, e.g. the value under key "city" in map bin "address".
//
// The server reports index contexts in sindex-list output as a base64
// encoded msgpack array of alternating step id and step value. Decode and
// Encode convert between that form and Context.
package cdt

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrOddContext   = errors.New("context has odd number of elements")
	ErrUnknownStep  = errors.New("unknown context step id")
	ErrInvalidValue = errors.New("invalid context step value")
)

// StepKind is the wire id of a context step.
type StepKind int

const (
	ListIndex StepKind = 0x10
	ListRank  StepKind = 0x11
	ListValue StepKind = 0x13
	MapIndex  StepKind = 0x20
	MapRank   StepKind = 0x21
	MapKey    StepKind = 0x22
	MapValue  StepKind = 0x23
)

func (k StepKind) String() string {
	switch k {
	case ListIndex:
		return "listIndex"
	case ListRank:
		return "listRank"
	case ListValue:
		return "listValue"
	case MapIndex:
		return "mapIndex"
	case MapRank:
		return "mapRank"
	case MapKey:
		return "mapKey"
	case MapValue:
		return "mapValue"
	default:
		return "unknown"
	}
}

func (k StepKind) valid() bool {
	return k.String() != "unknown"
}

// Step is one navigation step. Value is an int64 for index and rank steps
// and an int64 or string for key and value steps.
type Step struct {
	Kind  StepKind
	Value any
}

func (s Step) String() string {
	switch v := s.Value.(type) {
	case string:
		return s.Kind.String() + "(" + strconv.Quote(v) + ")"
	default:
		return fmt.Sprintf("%s(%v)", s.Kind, v)
	}
}

// Context is an ordered navigation path. The zero value is the empty path.
type Context []Step

// Key returns a canonical string for use in map keys. Empty contexts
// return the empty string.
func (c Context) Key() string {
	if len(c) == 0 {
		return ""
	}
	parts := make([]string, len(c))
	for i, s := range c {
		parts[i] = s.String()
	}
	return strings.Join(parts, ".")
}

func (c Context) String() string {
	if len(c) == 0 {
		return "[]"
	}
	return "[" + c.Key() + "]"
}

// Equal reports whether both contexts describe the same path.
func (c Context) Equal(other Context) bool {
	return c.Key() == other.Key()
}

// Clone returns an independent copy.
func (c Context) Clone() Context {
	if c == nil {
		return nil
	}
	out := make(Context, len(c))
	copy(out, c)
	return out
}

// Convenience constructors.

func ListIndexStep(i int64) Step   { return Step{Kind: ListIndex, Value: i} }
func ListRankStep(r int64) Step    { return Step{Kind: ListRank, Value: r} }
func MapIndexStep(i int64) Step    { return Step{Kind: MapIndex, Value: i} }
func MapRankStep(r int64) Step     { return Step{Kind: MapRank, Value: r} }
func MapKeyStep(key string) Step   { return Step{Kind: MapKey, Value: key} }
func MapIntKeyStep(key int64) Step { return Step{Kind: MapKey, Value: key} }
func ListValueStep(v any) Step     { return Step{Kind: ListValue, Value: normalize(v)} }
func MapValueStep(v any) Step      { return Step{Kind: MapValue, Value: normalize(v)} }

// Decode parses the server representation of an index context.
// "", "NULL" and "null" decode to an empty context.
func Decode(s string) (Context, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode context base64: %w", err)
	}
	var elems []any
	if err := msgpack.Unmarshal(raw, &elems); err != nil {
		return nil, fmt.Errorf("decode context msgpack: %w", err)
	}
	if len(elems)%2 != 0 {
		return nil, ErrOddContext
	}
	ctx := make(Context, 0, len(elems)/2)
	for i := 0; i < len(elems); i += 2 {
		id, ok := toInt64(elems[i])
		if !ok || !StepKind(id).valid() {
			return nil, fmt.Errorf("%w: %v", ErrUnknownStep, elems[i])
		}
		v := normalize(elems[i+1])
		if v == nil {
			return nil, fmt.Errorf("%w: %T", ErrInvalidValue, elems[i+1])
		}
		ctx = append(ctx, Step{Kind: StepKind(id), Value: v})
	}
	return ctx, nil
}

// Encode renders a context in the server representation. Empty contexts
// encode to the empty string.
func Encode(c Context) (string, error) {
	if len(c) == 0 {
		return "", nil
	}
	elems := make([]any, 0, len(c)*2)
	for _, s := range c {
		elems = append(elems, int64(s.Kind), s.Value)
	}
	raw, err := msgpack.Marshal(elems)
	if err != nil {
		return "", fmt.Errorf("encode context: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// normalize folds the integer types msgpack may produce into int64.
// Unsupported types return nil.
func normalize(v any) any {
	if i, ok := toInt64(v); ok {
		return i
	}
	switch t := v.(type) {
	case string:
		return strings.TrimPrefix(t, stringParticle)
	case []byte:
		return strings.TrimPrefix(string(t), stringParticle)
	}
	return nil
}

// stringParticle prefixes strings packed by the server inside collections.
const stringParticle = "\x03"

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		return int64(t), true //nolint:gosec // context ids and indexes are small
	}
	return 0, false
}
