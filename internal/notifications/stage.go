package notifications

import (
	"context"
	"errors"
	"fmt"
)

// Stage is a gate of the dispatch pipeline. Stages run strictly in
// declaration order and the first failing one ends the dispatch.
type Stage int

// Pipeline stages in order.
const (
	StageValidation Stage = iota
	StageTargetLookup
	StageTemplateLookup
	StageRender
	StageQueue
	StageSend
	StageFinalize
	stageDone
)

// String returns the wire name of the stage. Both log writes report DbWrite.
func (s Stage) String() string {
	switch s {
	case StageValidation:
		return "Validation"
	case StageTargetLookup:
		return "TargetLookup"
	case StageTemplateLookup:
		return "TemplateLookup"
	case StageRender:
		return "Render"
	case StageQueue, StageFinalize:
		return "DbWrite"
	case StageSend:
		return "HttpSend"
	default:
		return "Done"
	}
}

// MarshalText encodes the stage by its wire name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// next is the transition function of the pipeline.
func (s Stage) next() Stage {
	if s >= stageDone {
		return stageDone
	}
	return s + 1
}

// StageError is a dispatch failure tagged with the stage that raised it.
type StageError struct {
	Stage Stage
	Err   error
	// HTTPStatus is the transport response code, set only for send failures.
	HTTPStatus *int
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

type step struct {
	stage Stage
	run   func(ctx context.Context) error
}

// pipeline is an ordered list of steps covering every stage exactly once.
type pipeline []step

// run executes steps in order and returns the first failure tagged with
// its stage. A step may return its own *StageError to attach a status code.
func (p pipeline) run(ctx context.Context) *StageError {
	want := StageValidation
	for _, st := range p {
		if st.stage != want {
			return &StageError{
				Stage: want,
				Err:   fmt.Errorf("pipeline out of order: got %s, want %s", st.stage, want),
			}
		}
		if err := st.run(ctx); err != nil {
			var se *StageError
			if errors.As(err, &se) {
				return se
			}
			return &StageError{Stage: st.stage, Err: err}
		}
		want = want.next()
	}
	if want != stageDone {
		return &StageError{Stage: want, Err: errors.New("pipeline ended early")}
	}
	return nil
}
