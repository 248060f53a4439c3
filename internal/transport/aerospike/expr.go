package aerospike

import (
	"errors"
	"fmt"

	as "github.com/aerospike/aerospike-client-go/v7"

	"aeroquery/internal/cdt"
	"aeroquery/internal/qualifier"
)

var ErrUnsupportedPredicate = errors.New("predicate cannot be expressed as a filter expression")

// Expression translates a residual qualifier tree into a server filter
// expression. A nil tree yields a nil expression.
func Expression(q *qualifier.Qualifier) (*as.Expression, error) {
	if q == nil {
		return nil, nil
	}
	switch q.Operation() {
	case qualifier.OpAnd, qualifier.OpOr:
		kids := q.Children()
		exps := make([]*as.Expression, 0, len(kids))
		for _, k := range kids {
			e, err := Expression(k)
			if err != nil {
				return nil, err
			}
			exps = append(exps, e)
		}
		if len(exps) == 1 {
			return exps[0], nil
		}
		if q.Operation() == qualifier.OpAnd {
			return as.ExpAnd(exps...), nil
		}
		return as.ExpOr(exps...), nil
	}
	return leafExpression(q)
}

func leafExpression(q *qualifier.Qualifier) (*as.Expression, error) {
	values := q.Values()
	bin := q.Bin()
	ctx := q.Context()

	switch op := q.Operation(); op {
	case qualifier.OpExists:
		if len(ctx) > 0 {
			return nil, fmt.Errorf("%w: %s with context", ErrUnsupportedPredicate, op)
		}
		return as.ExpBinExists(bin), nil
	case qualifier.OpNotExists:
		if len(ctx) > 0 {
			return nil, fmt.Errorf("%w: %s with context", ErrUnsupportedPredicate, op)
		}
		return as.ExpNot(as.ExpBinExists(bin)), nil

	case qualifier.OpEq:
		v := values[0]
		if q.IgnoreCase() && v.Kind() == qualifier.KindString {
			return regex(q, qualifier.BuildRegex(v.StringValue(), op))
		}
		return compare(as.ExpEq, bin, ctx, v)
	case qualifier.OpNotEq:
		return compare(as.ExpNotEq, bin, ctx, values[0])
	case qualifier.OpLt:
		return compare(as.ExpLess, bin, ctx, values[0])
	case qualifier.OpLtEq:
		return compare(as.ExpLessEq, bin, ctx, values[0])
	case qualifier.OpGt:
		return compare(as.ExpGreater, bin, ctx, values[0])
	case qualifier.OpGtEq:
		return compare(as.ExpGreaterEq, bin, ctx, values[0])
	case qualifier.OpBetween:
		lo, err := compare(as.ExpGreaterEq, bin, ctx, values[0])
		if err != nil {
			return nil, err
		}
		hi, err := compare(as.ExpLess, bin, ctx, values[1])
		if err != nil {
			return nil, err
		}
		return as.ExpAnd(lo, hi), nil

	case qualifier.OpIn, qualifier.OpNotIn:
		exps := make([]*as.Expression, 0, len(values))
		for _, v := range values {
			e, err := compare(as.ExpEq, bin, ctx, v)
			if err != nil {
				return nil, err
			}
			exps = append(exps, e)
		}
		in := exps[0]
		if len(exps) > 1 {
			in = as.ExpOr(exps...)
		}
		if op == qualifier.OpNotIn {
			return as.ExpNot(in), nil
		}
		return in, nil

	case qualifier.OpStartsWith, qualifier.OpEndsWith, qualifier.OpContaining:
		return regex(q, qualifier.BuildRegex(values[0].StringValue(), op))
	case qualifier.OpNotContaining:
		e, err := regex(q, qualifier.BuildRegex(values[0].StringValue(), op))
		if err != nil {
			return nil, err
		}
		return as.ExpNot(e), nil
	case qualifier.OpLike:
		return regex(q, values[0].StringValue())

	case qualifier.OpGeoWithin:
		target, err := binValue(bin, ctx, as.ExpTypeGEO)
		if err != nil {
			return nil, err
		}
		return as.ExpGeoCompare(target, as.ExpGeoVal(values[0].StringValue())), nil

	case qualifier.OpListValueContaining:
		list, steps, err := container(bin, ctx, as.ExpListBin)
		if err != nil {
			return nil, err
		}
		count := as.ExpListGetByValue(as.ListReturnTypeCount, value(values[0]), list, steps...)
		return as.ExpGreater(count, as.ExpIntVal(0)), nil
	case qualifier.OpListValueBetween:
		list, steps, err := container(bin, ctx, as.ExpListBin)
		if err != nil {
			return nil, err
		}
		count := as.ExpListGetByValueRange(as.ListReturnTypeCount, value(values[0]), value(values[1]), list, steps...)
		return as.ExpGreater(count, as.ExpIntVal(0)), nil
	case qualifier.OpMapKeysContain:
		m, steps, err := container(bin, ctx, as.ExpMapBin)
		if err != nil {
			return nil, err
		}
		count := as.ExpMapGetByKey(as.MapReturnType.COUNT, as.ExpTypeINT, value(values[0]), m, steps...)
		return as.ExpGreater(count, as.ExpIntVal(0)), nil
	case qualifier.OpMapValuesContain:
		m, steps, err := container(bin, ctx, as.ExpMapBin)
		if err != nil {
			return nil, err
		}
		count := as.ExpMapGetByValue(as.MapReturnType.COUNT, value(values[0]), m, steps...)
		return as.ExpGreater(count, as.ExpIntVal(0)), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedPredicate, q)
}

// compare builds cmp(bin, v) with the bin read as v's type.
func compare(cmp func(left, right *as.Expression) *as.Expression, bin string, ctx cdt.Context, v qualifier.Value) (*as.Expression, error) {
	typ, err := expType(v.Kind())
	if err != nil {
		return nil, err
	}
	left, err := binValue(bin, ctx, typ)
	if err != nil {
		return nil, err
	}
	return cmp(left, value(v)), nil
}

func regex(q *qualifier.Qualifier, pattern string) (*as.Expression, error) {
	target, err := binValue(q.Bin(), q.Context(), as.ExpTypeSTRING)
	if err != nil {
		return nil, err
	}
	flags := as.ExpRegexFlagNONE
	if q.IgnoreCase() {
		flags = as.ExpRegexFlagICASE
	}
	return as.ExpRegexCompare(pattern, flags, target), nil
}

func expType(k qualifier.Kind) (as.ExpType, error) {
	switch k {
	case qualifier.KindInt:
		return as.ExpTypeINT, nil
	case qualifier.KindFloat:
		return as.ExpTypeFLOAT, nil
	case qualifier.KindString:
		return as.ExpTypeSTRING, nil
	case qualifier.KindBool:
		return as.ExpTypeBOOL, nil
	case qualifier.KindBytes:
		return as.ExpTypeBLOB, nil
	case qualifier.KindGeoJSON:
		return as.ExpTypeGEO, nil
	}
	return 0, fmt.Errorf("%w: value kind %s", ErrUnsupportedPredicate, k)
}

func value(v qualifier.Value) *as.Expression {
	switch v.Kind() {
	case qualifier.KindInt:
		return as.ExpIntVal(v.IntValue())
	case qualifier.KindFloat:
		return as.ExpFloatVal(v.FloatValue())
	case qualifier.KindBool:
		return as.ExpBoolVal(v.BoolValue())
	case qualifier.KindBytes:
		return as.ExpBlobVal(v.BytesValue())
	case qualifier.KindGeoJSON:
		return as.ExpGeoVal(v.StringValue())
	default:
		return as.ExpStringVal(v.StringValue())
	}
}

// typedBin reads a top-level bin as typ.
func typedBin(bin string, typ as.ExpType) (*as.Expression, error) {
	switch typ {
	case as.ExpTypeINT:
		return as.ExpIntBin(bin), nil
	case as.ExpTypeFLOAT:
		return as.ExpFloatBin(bin), nil
	case as.ExpTypeSTRING:
		return as.ExpStringBin(bin), nil
	case as.ExpTypeBOOL:
		return as.ExpBoolBin(bin), nil
	case as.ExpTypeBLOB:
		return as.ExpBlobBin(bin), nil
	case as.ExpTypeGEO:
		return as.ExpGeoBin(bin), nil
	case as.ExpTypeLIST:
		return as.ExpListBin(bin), nil
	case as.ExpTypeMAP:
		return as.ExpMapBin(bin), nil
	}
	return nil, fmt.Errorf("%w: bin type %d", ErrUnsupportedPredicate, typ)
}

// binValue reads bin, or the element ctx navigates to, as typ.
func binValue(bin string, ctx cdt.Context, typ as.ExpType) (*as.Expression, error) {
	if len(ctx) == 0 {
		return typedBin(bin, typ)
	}
	last := ctx[len(ctx)-1]
	parents, err := contexts(ctx[:len(ctx)-1])
	if err != nil {
		return nil, err
	}
	root := rootBin(bin, ctx[0])

	switch last.Kind {
	case cdt.MapKey:
		return as.ExpMapGetByKey(as.MapReturnType.VALUE, typ, stepValue(last), root, parents...), nil
	case cdt.MapIndex:
		return as.ExpMapGetByIndex(as.MapReturnType.VALUE, typ, stepValue(last), root, parents...), nil
	case cdt.MapRank:
		return as.ExpMapGetByRank(as.MapReturnType.VALUE, typ, stepValue(last), root, parents...), nil
	case cdt.ListIndex:
		return as.ExpListGetByIndex(as.ListReturnTypeValue, typ, stepValue(last), root, parents...), nil
	case cdt.ListRank:
		return as.ExpListGetByRank(as.ListReturnTypeValue, typ, stepValue(last), root, parents...), nil
	}
	return nil, fmt.Errorf("%w: context ends in %s", ErrUnsupportedPredicate, last.Kind)
}

// container returns the collection the context points at, as a bin
// expression plus the CDT contexts navigating into it.
func container(bin string, ctx cdt.Context, mk func(string) *as.Expression) (*as.Expression, []*as.CDTContext, error) {
	steps, err := contexts(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(ctx) == 0 {
		return mk(bin), nil, nil
	}
	return rootBin(bin, ctx[0]), steps, nil
}

// rootBin types the bin by the collection its first step navigates.
func rootBin(bin string, first cdt.Step) *as.Expression {
	switch first.Kind {
	case cdt.MapIndex, cdt.MapRank, cdt.MapKey, cdt.MapValue:
		return as.ExpMapBin(bin)
	default:
		return as.ExpListBin(bin)
	}
}

func stepValue(s cdt.Step) *as.Expression {
	switch v := s.Value.(type) {
	case int64:
		return as.ExpIntVal(v)
	case string:
		return as.ExpStringVal(v)
	}
	return as.ExpStringVal(fmt.Sprint(s.Value))
}

// contexts converts a navigation path to client CDT contexts.
func contexts(ctx cdt.Context) ([]*as.CDTContext, error) {
	out := make([]*as.CDTContext, 0, len(ctx))
	for _, s := range ctx {
		c, err := cdtContext(s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func cdtContext(s cdt.Step) (*as.CDTContext, error) {
	i, isInt := s.Value.(int64)
	switch s.Kind {
	case cdt.ListIndex:
		if isInt {
			return as.CtxListIndex(int(i)), nil
		}
	case cdt.ListRank:
		if isInt {
			return as.CtxListRank(int(i)), nil
		}
	case cdt.MapIndex:
		if isInt {
			return as.CtxMapIndex(int(i)), nil
		}
	case cdt.MapRank:
		if isInt {
			return as.CtxMapRank(int(i)), nil
		}
	case cdt.ListValue:
		return as.CtxListValue(as.NewValue(s.Value)), nil
	case cdt.MapKey:
		return as.CtxMapKey(as.NewValue(s.Value)), nil
	case cdt.MapValue:
		return as.CtxMapValue(as.NewValue(s.Value)), nil
	}
	return nil, fmt.Errorf("%w: context step %s", ErrUnsupportedPredicate, s)
}
