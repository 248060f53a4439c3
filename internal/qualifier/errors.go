package qualifier

import (
	"errors"
	"fmt"
)

// Construction errors.
var (
	ErrMissingBin   = errors.New("leaf qualifier requires a bin")
	ErrArity        = errors.New("wrong number of values for operation")
	ErrNoChildren   = errors.New("combinator requires at least one child")
	ErrCombinatorOp = errors.New("operation is a combinator")
	ErrUnknownOp    = errors.New("unknown operation")
	ErrValueType    = errors.New("unsupported value type")
	ErrNilChild     = errors.New("nil child qualifier")
)

// PlanningError reports a malformed qualifier. It is returned at
// construction time; a malformed Qualifier is never built.
type PlanningError struct {
	Bin string    // empty for combinators
	Op  Operation // operation being built
	Err error     // underlying sentinel error (for errors.Is)
	Msg string    // human-readable detail
}

func (e *PlanningError) Error() string {
	if e.Bin != "" {
		return fmt.Sprintf("invalid qualifier %s on bin %q: %s", e.Op, e.Bin, e.Msg)
	}
	return fmt.Sprintf("invalid qualifier %s: %s", e.Op, e.Msg)
}

func (e *PlanningError) Unwrap() error {
	return e.Err
}

func newPlanningError(bin string, op Operation, err error, msgFmt string, args ...any) *PlanningError {
	return &PlanningError{
		Bin: bin,
		Op:  op,
		Err: err,
		Msg: fmt.Sprintf(msgFmt, args...),
	}
}
