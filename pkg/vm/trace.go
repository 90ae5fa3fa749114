package vm

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/xray-lang/xray/pkg/object"
)

// traceStep prints one disassembled instruction as it executes (run id,
// function, position, opcode, decoded operands) plus the
// allocation-pressure byte counter rendered human-readable, enabled by
// VM.TraceExecution.
func (vm *VM) traceStep(f *CallFrame, instr uint32, line int) {
	op, a, b, c, k := object.DecodeABCK(instr)
	name := f.closure.Proto.Name
	if name == "" {
		name = "<script>"
	}
	fmt.Fprintf(vm.ErrOut, "[%s] %-12s %4d: %-12s A=%d B=%d C=%d k=%t line=%d heap=%s\n",
		shortRunID(vm.RunID.String()), name, f.pc-1, op, a, b, c, k, line, humanize.Bytes(vm.Objects.Bytes))
}

func shortRunID(id string) string {
	if len(id) < 8 {
		return id
	}
	return id[:8]
}
