package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"aeroquery/internal/cdt"
	"aeroquery/internal/qualifier"
)

// whereNode is the JSON form of a qualifier tree:
//
//	{"bin":"age","op":"gt","values":[30]}
//	{"op":"and","children":[...]}
//	{"bin":"addr","op":"eq","values":["Oslo"],"ctx":[{"mapKey":"city"}]}
type whereNode struct {
	Bin        string           `json:"bin"`
	Op         string           `json:"op"`
	Values     []any            `json:"values"`
	IgnoreCase bool             `json:"ignoreCase"`
	Ctx        []map[string]any `json:"ctx"`
	Children   []whereNode      `json:"children"`
}

var stepKinds = []cdt.StepKind{
	cdt.ListIndex, cdt.ListRank, cdt.ListValue,
	cdt.MapIndex, cdt.MapRank, cdt.MapKey, cdt.MapValue,
}

// parseWhere decodes a JSON qualifier. An empty string yields nil, which
// scans the set. Integer literals become Int values and other numbers Float.
func parseWhere(s string) (*qualifier.Qualifier, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var n whereNode
	if err := dec.Decode(&n); err != nil {
		return nil, fmt.Errorf("parse --where: %w", err)
	}
	return n.build()
}

func (n whereNode) build() (*qualifier.Qualifier, error) {
	op, ok := qualifier.ParseOperation(n.Op)
	if !ok {
		return nil, fmt.Errorf("unknown operation %q", n.Op)
	}

	if op.IsCombinator() {
		if len(n.Values) > 0 {
			return nil, fmt.Errorf("%s takes children, not values", op)
		}
		kids := make([]*qualifier.Qualifier, len(n.Children))
		for i, c := range n.Children {
			q, err := c.build()
			if err != nil {
				return nil, err
			}
			kids[i] = q
		}
		if op == qualifier.OpAnd {
			return qualifier.And(kids...)
		}
		return qualifier.Or(kids...)
	}

	values := make([]qualifier.Value, len(n.Values))
	for i, raw := range n.Values {
		v, err := jsonValue(op, raw)
		if err != nil {
			return nil, fmt.Errorf("bin %s value %d: %w", n.Bin, i, err)
		}
		values[i] = v
	}
	ctx, err := parseCtx(n.Ctx)
	if err != nil {
		return nil, fmt.Errorf("bin %s: %w", n.Bin, err)
	}
	return qualifier.NewBuilder().
		Bin(n.Bin).
		Op(op).
		Values(values...).
		IgnoreCase(n.IgnoreCase).
		Context(ctx...).
		Build()
}

// jsonValue converts a decoded JSON value. Objects are GeoJSON regions.
func jsonValue(op qualifier.Operation, raw any) (qualifier.Value, error) {
	switch v := raw.(type) {
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return qualifier.Value{}, err
		}
		return qualifier.GeoJSON(string(b)), nil
	case string:
		if op == qualifier.OpGeoWithin {
			return qualifier.GeoJSON(v), nil
		}
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return qualifier.Int(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return qualifier.Value{}, err
		}
		return qualifier.Float(f), nil
	}
	return qualifier.ValueOf(raw)
}

func parseCtx(steps []map[string]any) ([]cdt.Step, error) {
	out := make([]cdt.Step, 0, len(steps))
	for _, m := range steps {
		if len(m) != 1 {
			return nil, errors.New("each ctx step needs exactly one key")
		}
		for name, raw := range m {
			step, err := ctxStep(name, raw)
			if err != nil {
				return nil, err
			}
			out = append(out, step)
		}
	}
	return out, nil
}

func ctxStep(name string, raw any) (cdt.Step, error) {
	for _, k := range stepKinds {
		if !strings.EqualFold(k.String(), name) {
			continue
		}
		switch v := raw.(type) {
		case json.Number:
			i, err := v.Int64()
			if err != nil {
				return cdt.Step{}, fmt.Errorf("ctx %s: %v is not an integer", name, v)
			}
			return cdt.Step{Kind: k, Value: i}, nil
		case string:
			switch k {
			case cdt.ListIndex, cdt.ListRank, cdt.MapIndex, cdt.MapRank:
				return cdt.Step{}, fmt.Errorf("ctx %s needs an integer", name)
			}
			return cdt.Step{Kind: k, Value: v}, nil
		}
		return cdt.Step{}, fmt.Errorf("ctx %s: unsupported value %v", name, raw)
	}
	return cdt.Step{}, fmt.Errorf("unknown ctx step %q", name)
}
