package vm

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// stdout is a buffered writer shared by every print built-in, mirroring
// the teacher's bufio-based I/O (vm/run.go, vm/vm.go use
// bufio.NewWriter(os.Stdout) for the same reason: unbuffered per-call
// Fprint to os.Stdout is the dominant cost of a print-heavy VM run).
var stdout = bufio.NewWriter(os.Stdout)

// FlushOutput flushes buffered built-in output. The CLI entry point
// calls this before exiting so the last lines of a program's output
// are not lost to a buffered, never-flushed writer.
func FlushOutput() {
	stdout.Flush()
}

// SetOutput redirects the print built-ins' buffered writer to w, the
// same bufio.Writer-over-an-io.Writer shape as the default
// os.Stdout target. Exposed so tests can capture built-in output; the
// CLI never calls this itself.
func SetOutput(w io.Writer) {
	stdout = bufio.NewWriter(w)
}

// builtinTable returns the fixed nine-entry host function table spec
// §4.5 requires. Each function (other than __printnl) reads its single
// argument from the new call frame's first local, since the call
// protocol moves arguments off the operand stack and into locals
// before checking whether the callee is a built-in (spec §4.3 step 6
// runs after step 5 unconditionally).
func builtinTable() map[string]BuiltinFunc {
	return map[string]BuiltinFunc{
		"__printchar": func(vm *VM, argc int32) {
			v, ok := vm.GetLocalAtIndex(0)
			if !ok {
				return
			}
			fmt.Fprintf(stdout, "%c", byte(v.I8()))
		},
		"__printi8": func(vm *VM, argc int32) {
			v, ok := vm.GetLocalAtIndex(0)
			if !ok {
				return
			}
			fmt.Fprintf(stdout, "%d", v.I8())
		},
		"__printi16": func(vm *VM, argc int32) {
			v, ok := vm.GetLocalAtIndex(0)
			if !ok {
				return
			}
			fmt.Fprintf(stdout, "%d", v.I16())
		},
		"__printi32": func(vm *VM, argc int32) {
			v, ok := vm.GetLocalAtIndex(0)
			if !ok {
				return
			}
			fmt.Fprintf(stdout, "%d", v.I32())
		},
		"__printi64": func(vm *VM, argc int32) {
			v, ok := vm.GetLocalAtIndex(0)
			if !ok {
				return
			}
			fmt.Fprintf(stdout, "%d", v.I64())
		},
		"__printf32": func(vm *VM, argc int32) {
			v, ok := vm.GetLocalAtIndex(0)
			if !ok {
				return
			}
			fmt.Fprintf(stdout, "%g", v.F32())
		},
		// __printf64 prints the f64 lane, not the i64 lane — one of
		// the documented deviations from a retrieved revision of the
		// original that misread val.i64 here (SPEC_FULL.md §6).
		"__printf64": func(vm *VM, argc int32) {
			v, ok := vm.GetLocalAtIndex(0)
			if !ok {
				return
			}
			fmt.Fprintf(stdout, "%g", v.F64())
		},
		"__printstr": func(vm *VM, argc int32) {
			v, ok := vm.GetLocalAtIndex(0)
			if !ok {
				return
			}
			fmt.Fprint(stdout, readCString(vm, v.Ptr()))
		},
		"__printnl": func(vm *VM, argc int32) {
			fmt.Fprint(stdout, "\n")
		},
	}
}

// readCString reads a NUL-terminated string out of the instruction
// vector starting at the given word offset, the same convention
// GETGLOBAL pointers use for string data units.
func readCString(vm *VM, addr uint64) string {
	start := int(addr)
	if start < 0 || start >= len(vm.instructions) {
		return ""
	}
	name, _ := DecodeName(vm.instructions, start)
	return name
}
