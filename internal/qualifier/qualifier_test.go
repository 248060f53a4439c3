package qualifier

import (
	"errors"
	"testing"

	"aeroquery/internal/cdt"
)

func TestBuildArityErrors(t *testing.T) {
	tests := []struct {
		name   string
		op     Operation
		values []Value
	}{
		{"between with one value", OpBetween, []Value{Int(1)}},
		{"between with three values", OpBetween, []Value{Int(1), Int(2), Int(3)}},
		{"eq without value", OpEq, nil},
		{"eq with two values", OpEq, []Value{Int(1), Int(2)}},
		{"in without values", OpIn, nil},
		{"exists with value", OpExists, []Value{Int(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := New("bin", tt.op, tt.values...)
			if q != nil {
				t.Fatal("malformed qualifier was constructed")
			}
			if !errors.Is(err, ErrArity) {
				t.Fatalf("error = %v, want ErrArity", err)
			}
			var pe *PlanningError
			if !errors.As(err, &pe) {
				t.Fatalf("error %T is not a *PlanningError", err)
			}
			if pe.Bin != "bin" || pe.Op != tt.op {
				t.Errorf("PlanningError = %+v", pe)
			}
		})
	}
}

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name string
		b    *Builder
		want error
	}{
		{"missing bin", NewBuilder().Op(OpEq).Values(Int(1)), ErrMissingBin},
		{"missing op", NewBuilder().Bin("a"), ErrUnknownOp},
		{"combinator op", NewBuilder().Bin("a").Op(OpAnd), ErrCombinatorOp},
		{"startswith int", NewBuilder().Bin("a").Op(OpStartsWith).Values(Int(1)), ErrValueType},
		{"geo with int", NewBuilder().Bin("a").Op(OpGeoWithin).Values(Int(1)), ErrValueType},
		{"between mixed kinds", NewBuilder().Bin("a").Op(OpBetween).Values(Int(1), String("z")), ErrValueType},
		{"list between floats", NewBuilder().Bin("a").Op(OpListValueBetween).Values(Float(1.5), Float(2)), ErrValueType},
		{"invalid value", NewBuilder().Bin("a").Op(OpEq).Values(Value{}), ErrValueType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.b.Build()
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCombinatorValidation(t *testing.T) {
	if _, err := And(); !errors.Is(err, ErrNoChildren) {
		t.Errorf("And() error = %v, want ErrNoChildren", err)
	}
	if _, err := Or(nil); !errors.Is(err, ErrNilChild) {
		t.Errorf("Or(nil) error = %v, want ErrNilChild", err)
	}
}

func TestQualifierImmutable(t *testing.T) {
	q := Must(NewBuilder().Bin("tags").Op(OpIn).Values(String("a"), String("b")).Context(cdt.MapKeyStep("x")).Build())

	vals := q.Values()
	vals[0] = String("mutated")
	if q.Value().StringValue() != "a" {
		t.Error("Values() exposes internal slice")
	}
	ctx := q.Context()
	ctx[0] = cdt.MapKeyStep("y")
	if !q.Context().Equal(cdt.Context{cdt.MapKeyStep("x")}) {
		t.Error("Context() exposes internal slice")
	}

	a := Must(New("a", OpEq, Int(1)))
	and := Must(And(a, q))
	kids := and.Children()
	kids[0] = nil
	if and.Children()[0] != a {
		t.Error("Children() exposes internal slice")
	}
}

func TestString(t *testing.T) {
	a := Must(New("age", OpBetween, Int(18), Int(65)))
	b := Must(NewBuilder().Bin("name").Op(OpStartsWith).Values(String("Jo")).IgnoreCase(true).Build())
	c := Must(New("tag", OpIn, String("x"), String("y")))
	d := Must(NewBuilder().Bin("address").Op(OpEq).Values(String("Paris")).Context(cdt.MapKeyStep("city")).Build())

	tests := []struct {
		q    *Qualifier
		want string
	}{
		{a, "age between 18 65"},
		{b, `name startswith/i "Jo"`},
		{c, `tag in ["x", "y"]`},
		{d, `address[mapKey("city")] eq "Paris"`},
		{Must(Or(a, Must(And(b, c)))), `(age between 18 65 OR (name startswith/i "Jo" AND tag in ["x", "y"]))`},
		{nil, "<none>"},
	}
	for _, tt := range tests {
		if got := tt.q.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestConjuncts(t *testing.T) {
	a := Must(New("a", OpEq, Int(1)))
	b := Must(New("b", OpEq, Int(2)))
	c := Must(New("c", OpEq, Int(3)))
	or := Must(Or(b, c))

	if got := Conjuncts(nil); got != nil {
		t.Errorf("Conjuncts(nil) = %v", got)
	}
	if got := Conjuncts(or); len(got) != 1 || got[0] != or {
		t.Errorf("OR should be a single term, got %v", got)
	}
	got := Conjuncts(Must(And(a, Must(And(b, c)))))
	if len(got) != 3 || got[0] != a || got[1] != b || got[2] != c {
		t.Errorf("nested AND not flattened: %v", got)
	}
	got = Conjuncts(Must(And(a, or)))
	if len(got) != 2 || got[1] != or {
		t.Errorf("AND with OR: %v", got)
	}
}

func TestWithout(t *testing.T) {
	a := Must(New("a", OpEq, Int(1)))
	b := Must(New("b", OpGt, Int(2)))
	c := Must(New("c", OpStartsWith, String("x")))

	t.Run("single leaf", func(t *testing.T) {
		if got := Without(a, a); got != nil {
			t.Errorf("got %v, want nil", got)
		}
	})
	t.Run("two terms collapse to remaining leaf", func(t *testing.T) {
		if got := Without(Must(And(a, b)), a); got != b {
			t.Errorf("got %v, want %v", got, b)
		}
	})
	t.Run("three terms keep order", func(t *testing.T) {
		got := Without(Must(And(a, b, c)), b)
		if got.String() != "(a eq 1 AND c startswith \"x\")" {
			t.Errorf("got %v", got)
		}
		kids := got.Children()
		if kids[0] != a || kids[1] != c {
			t.Error("remaining leaves must keep identity")
		}
	})
	t.Run("nested and", func(t *testing.T) {
		got := Without(Must(And(a, Must(And(b, c)))), c)
		if got.String() != "(a eq 1 AND b gt 2)" {
			t.Errorf("got %v", got)
		}
	})
	t.Run("absent target leaves tree untouched", func(t *testing.T) {
		tree := Must(And(a, b))
		if got := Without(tree, c); got != tree {
			t.Errorf("got %v, want identical tree", got)
		}
	})
	t.Run("nil absorbed", func(t *testing.T) {
		tree := Must(Or(a, b))
		if got := Without(tree, nil); got != tree {
			t.Errorf("got %v", got)
		}
	})
}

func TestParseOperation(t *testing.T) {
	for op := OpAnd; op < opTrue; op++ {
		got, ok := ParseOperation(op.String())
		if !ok || got != op {
			t.Errorf("ParseOperation(%q) = %v, %v", op.String(), got, ok)
		}
	}
	aliases := map[string]Operation{">=": OpGtEq, "!=": OpNotEq, "CONTAINS": OpContaining, " EQ ": OpEq}
	for in, want := range aliases {
		if got, ok := ParseOperation(in); !ok || got != want {
			t.Errorf("ParseOperation(%q) = %v, %v; want %v", in, got, ok, want)
		}
	}
	if _, ok := ParseOperation("true"); ok {
		t.Error("internal tautology must not be parseable")
	}
	if _, ok := ParseOperation("bogus"); ok {
		t.Error("unknown name parsed")
	}
}

func TestSemanticsTable(t *testing.T) {
	eligible := map[Operation]bool{
		OpEq: true, OpLt: true, OpLtEq: true, OpGt: true, OpGtEq: true, OpBetween: true,
		OpGeoWithin: true, OpListValueContaining: true, OpListValueBetween: true,
		OpMapKeysContain: true, OpMapValuesContain: true,
	}
	for op := OpAnd; op < opTrue; op++ {
		sem := op.Semantics()
		if sem.IndexEligible != eligible[op] {
			t.Errorf("%s: IndexEligible = %v, want %v", op, sem.IndexEligible, eligible[op])
		}
		if sem.Combinator && sem.IndexEligible {
			t.Errorf("%s: combinators are never index-eligible", op)
		}
	}
	if OpBetween.Semantics().MinValues != 2 || OpBetween.Semantics().MaxValues != 2 {
		t.Error("BETWEEN requires exactly two values")
	}
	if OpIn.Semantics().MaxValues != Unbounded {
		t.Error("IN is unbounded")
	}
	if Operation(999).String() != "unknown" {
		t.Error("out of range operation should be unknown")
	}
}
