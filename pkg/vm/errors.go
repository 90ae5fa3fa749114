// Package vm - error handling with stack traces
package vm

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// StackFrame captures one call frame's position at the moment a runtime
// error was raised, in caller-to-callee order for display.
type StackFrame struct {
	Name       string // closure/proto name, or "<script>"
	SourceLine int    // source line active in this frame
	PC         int    // instruction pointer within the frame's code
}

// RuntimeError reports a VM-level failure (type mismatch, division by
// zero, stack overflow, ...) together with the call stack active when it
// was raised.
type RuntimeError struct {
	Message    string
	StackTrace []StackFrame
	RunID      uuid.UUID
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.RunID != uuid.Nil {
		fmt.Fprintf(&b, " (run %s)", e.RunID)
	}
	if len(e.StackTrace) > 0 {
		b.WriteString("\n\nStack trace:")
		for i := len(e.StackTrace) - 1; i >= 0; i-- {
			f := e.StackTrace[i]
			b.WriteString("\n  at ")
			b.WriteString(f.Name)
			if f.SourceLine > 0 {
				fmt.Fprintf(&b, " [line %d]", f.SourceLine)
			}
		}
	}
	return b.String()
}

func newRuntimeError(message string, stack []StackFrame, runID uuid.UUID) *RuntimeError {
	return &RuntimeError{Message: message, StackTrace: stack, RunID: runID}
}

// wrapf builds a RuntimeError from the current frame stack, annotating the
// underlying cause with github.com/pkg/errors so a --trace CLI run can
// still recover the originating Go stack in addition to the VM's own.
func (vm *VM) wrapf(stack []StackFrame, format string, args ...interface{}) error {
	re := newRuntimeError(fmt.Sprintf(format, args...), stack, vm.RunID)
	return errors.WithStack(re)
}
