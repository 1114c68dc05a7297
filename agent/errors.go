package agent

import (
	"fmt"

	"github.com/martinemde/observagent/loopdetect"
)

// CompletionError reports a failed or timed out completion call.
type CompletionError struct {
	Step  int
	Cause error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion failed at step %d: %v", e.Step, e.Cause)
}

func (e *CompletionError) Unwrap() error {
	return e.Cause
}

// LoopDetectedError reports a run stopped because a tool call repeated.
type LoopDetectedError struct {
	Step      int
	Tool      string
	Detection loopdetect.Result
}

func (e *LoopDetectedError) Error() string {
	return fmt.Sprintf("loop detected at step %d on tool %q (%s)", e.Step, e.Tool, e.Detection.Strategy)
}

// MaxStepsExceededError reports a run that used every step without
// producing an answer.
type MaxStepsExceededError struct {
	MaxSteps int
}

func (e *MaxStepsExceededError) Error() string {
	return fmt.Sprintf("max steps (%d) reached without completion", e.MaxSteps)
}

// PanicError wraps a value recovered from a panic inside the run loop.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
