package vm

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// RunDebug drives the VM one instruction at a time from an interactive
// prompt, the same text-based single-step debugger shape as the
// teacher's RunProgramDebugMode (vm/run.go): "n"/"next" steps once,
// "r"/"run" free-runs until a breakpoint or halt, and "b <pc>" toggles
// a breakpoint at an instruction-vector index.
func (vm *VM) RunDebug(entry string) {
	if err := vm.Start(entry); err != nil {
		Log.Errorw("cannot start debugger", "error", err)
		return
	}

	fmt.Println("Commands:\n\tn or next: execute next instruction\n\tr or run: run until breakpoint or halt\n\tb <pc>: toggle breakpoint at instruction index")
	vm.printState()

	reader := bufio.NewReader(os.Stdin)
	breakpoints := make(map[int]struct{})
	waitForInput := true

	for vm.Running() {
		line := ""
		if waitForInput {
			fmt.Print("\n-> ")
			line, _ = reader.ReadString('\n')
			line = strings.ToLower(strings.TrimSpace(line))
		} else if _, hit := breakpoints[vm.PC()]; hit {
			fmt.Println("breakpoint")
			vm.printState()
			waitForInput = true
			continue
		}

		switch {
		case !waitForInput || line == "n" || line == "next":
			vm.Step()
			if waitForInput {
				vm.printState()
			}
		case line == "r" || line == "run":
			waitForInput = false
		case strings.HasPrefix(line, "b"):
			arg := strings.TrimSpace(strings.TrimPrefix(line, "b"))
			pc, err := strconv.Atoi(arg)
			if err != nil {
				fmt.Println("unknown instruction index:", arg)
				continue
			}
			if _, ok := breakpoints[pc]; ok {
				delete(breakpoints, pc)
			} else {
				breakpoints[pc] = struct{}{}
			}
		default:
			fmt.Println("unrecognized command:", line)
		}
	}

	FlushOutput()
	if err := vm.Err(); err != nil {
		fmt.Println(err)
	}
}

func (vm *VM) printState() {
	top := "<empty>"
	if vm.stackIndex >= 0 {
		top = fmt.Sprintf("%#x", vm.stack[vm.stackIndex].Bits())
	}
	fmt.Printf("pc=%d stackTop=%s stackDepth=%d locals=%d\n",
		vm.PC(), top, vm.stackIndex+1, len(vm.locals))
}
