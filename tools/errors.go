package tools

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTool is returned when a call names a tool that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// ValidationError reports arguments that do not satisfy a tool's schema.
type ValidationError struct {
	Tool     string
	Problems []string
	Cause    error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid arguments for tool %q", e.Tool)
	if len(e.Problems) > 0 {
		msg += ": " + strings.Join(e.Problems, "; ")
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// ToolExecutionError wraps a failure raised by a tool function, including
// a recovered panic.
type ToolExecutionError struct {
	Tool  string
	Cause error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Cause
}
