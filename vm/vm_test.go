package vm

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assembleAndRun assembles source, loads it into a fresh VM with default
// options, and runs the named entry function.
func assembleAndRun(t *testing.T, source string, entry string) *VM {
	t.Helper()
	mod, err := AssembleSource(source)
	require.NoError(t, err, "assembling source")

	machine := NewVirtualMachine(DefaultOptions())
	machine.LoadBytecode(mod)
	machine.Run(entry)
	return machine
}

// captureOutput redirects the built-in print table's buffered writer
// into an in-memory buffer for the duration of the test, restoring the
// default os.Stdout target on cleanup.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stdout) })
	return &buf
}

func topOfStack(t *testing.T, machine *VM) VMValue {
	t.Helper()
	require.GreaterOrEqual(t, machine.stackIndex, 0, "expected a non-empty operand stack")
	return machine.stack[machine.stackIndex]
}

// S1 - arithmetic: division in the f64 lane.
func TestArithmeticF64Division(t *testing.T) {
	machine := assembleAndRun(t, `
		function main {
			loadconst !f64 2.0
			loadconst !f64 4.0
			div @f64
			halt
		}
	`, "main")

	require.NoError(t, machine.Err())
	assert.Equal(t, 0.5, topOfStack(t, machine).F64())
}

// S2 - recursive factorial via CALL/RET and locals.
func TestRecursiveFactorial(t *testing.T) {
	machine := assembleAndRun(t, `
		function fact {
			load [0]
			loadconst !i64 0
			eq @i64
			jmpif base

			load [0]
			load [0]
			loadconst !i64 1
			sub @i64
			call [1] $"fact"
			mul @i64
			ret [0]

		label base
			loadconst !i64 1
			ret [0]
		}

		function main {
			loadconst !i64 5
			call [1] $"fact"
			halt
		}
	`, "main")

	require.NoError(t, machine.Err())
	assert.Equal(t, int64(120), topOfStack(t, machine).I64())
}

// S3 - label backpatch: the conditional jump skips the 42 push.
func TestJumpIfSkipsPush(t *testing.T) {
	machine := assembleAndRun(t, `
		function main {
			loadconst !i32 0
			loadconst !i8 1
			jmpif end
			loadconst !i32 42
		label end
			halt
		}
	`, "main")

	require.NoError(t, machine.Err())
	assert.Equal(t, int32(0), topOfStack(t, machine).I32())
}

// S5 - a callee that pops before any push must trip the under-frame
// guard without corrupting the caller's stack.
func TestUnderFramePopIsFatal(t *testing.T) {
	machine := assembleAndRun(t, `
		function bad {
			store [0]
			halt
		}

		function main {
			loadconst !i64 9
			call [0] $"bad"
			halt
		}
	`, "main")

	assert.ErrorIs(t, machine.Err(), errUnderFramePop)
	// The caller's own pushed value must survive the callee's failed pop.
	assert.Equal(t, int64(9), machine.stack[0].I64())
}

// CONVERT always pops, even when from==to or to==PTR (spec §4.3's
// documented quirk), and round-trips identical widths.
func TestConvertNoOpStillPops(t *testing.T) {
	machine := assembleAndRun(t, `
		function main {
			loadconst !i32 7
			convert @i32 @i32
			halt
		}
	`, "main")

	require.NoError(t, machine.Err())
	assert.Equal(t, int32(7), topOfStack(t, machine).I32())
	assert.Equal(t, 0, machine.stackIndex)
}

func TestConvertNarrowsI64ToI8(t *testing.T) {
	machine := assembleAndRun(t, `
		function main {
			loadconst !i64 300
			convert @i64 @i8
			halt
		}
	`, "main")

	require.NoError(t, machine.Err())
	assert.Equal(t, int8(300-256), topOfStack(t, machine).I8())
}

// A large-magnitude i64 truncated to i32 must match a direct integer
// truncation, not a value that first round-tripped through float64 (a
// float64 only carries 53 bits of integer precision, so routing
// 9007199254740993 through one before truncating would yield 0 instead
// of the correct 1).
func TestConvertLargeI64ToI32DoesNotLosePrecisionThroughFloat(t *testing.T) {
	machine := assembleAndRun(t, `
		function main {
			loadconst !i64 9007199254740993
			convert @i64 @i32
			halt
		}
	`, "main")

	require.NoError(t, machine.Err())
	assert.Equal(t, int32(1), topOfStack(t, machine).I32())
}

func TestIntegerDivisionByZeroIsFatal(t *testing.T) {
	machine := assembleAndRun(t, `
		function main {
			loadconst !i64 1
			loadconst !i64 0
			div @i64
			halt
		}
	`, "main")

	assert.ErrorIs(t, machine.Err(), errIntegerDivByZero)
}

func TestCreateLocalsZeroLeavesLocalsUnchanged(t *testing.T) {
	machine := assembleAndRun(t, `
		function main {
			createlocals [0]
			halt
		}
	`, "main")

	require.NoError(t, machine.Err())
	assert.Equal(t, 0, len(machine.locals))
}

func TestCallArgcZeroDoesNotPopStack(t *testing.T) {
	machine := assembleAndRun(t, `
		function noop {
			ret [0]
		}

		function main {
			loadconst !i64 11
			call [0] $"noop"
			halt
		}
	`, "main")

	require.NoError(t, machine.Err())
	assert.Equal(t, int64(11), topOfStack(t, machine).I64())
}

// S4 - built-in print: call [1] $"__printi64" on a pushed 7 writes the
// single character "7" and nothing else, and leaves the operand stack
// empty on exit.
func TestBuiltinPrintI64(t *testing.T) {
	out := captureOutput(t)

	machine := assembleAndRun(t, `
		function main {
			loadconst !i64 7
			call [1] $"__printi64"
			halt
		}
	`, "main")
	FlushOutput()

	require.NoError(t, machine.Err())
	assert.Equal(t, "7", out.String())
	assert.Equal(t, -1, machine.stackIndex)
}

// __printf64 prints the f64 lane of its argument, not the i64 lane
// (SPEC_FULL.md §6's corrected behavior).
func TestBuiltinPrintF64(t *testing.T) {
	out := captureOutput(t)

	machine := assembleAndRun(t, `
		function main {
			loadconst !f64 2.5
			call [1] $"__printf64"
			halt
		}
	`, "main")
	FlushOutput()

	require.NoError(t, machine.Err())
	assert.Equal(t, "2.5", out.String())
}

// __printstr pops a pointer and prints the NUL-terminated string at
// that address; __printnl prints a trailing newline with no pop.
func TestBuiltinPrintStrAndNewline(t *testing.T) {
	out := captureOutput(t)

	machine := assembleAndRun(t, `
		global greeting {
			$"hi"
		}

		function main {
			getglobal $"greeting"
			call [1] $"__printstr"
			call [0] $"__printnl"
			halt
		}
	`, "main")
	FlushOutput()

	require.NoError(t, machine.Err())
	assert.Equal(t, "hi\n", out.String())
	assert.Equal(t, -1, machine.stackIndex)
}

// GETGLOBAL/CALLINDIRECT: a global data unit's address is callable
// through the indirect path.
func TestGetGlobalAndCallIndirect(t *testing.T) {
	machine := assembleAndRun(t, `
		function callee {
			loadconst !i64 99
			ret [0]
		}

		function main {
			getglobal $"callee"
			callindirect [0]
			halt
		}
	`, "main")

	require.NoError(t, machine.Err())
	assert.Equal(t, int64(99), topOfStack(t, machine).I64())
}

// S6 - serialize then deserialize the factorial module and observe the
// same result.
func TestModuleSerializeRoundTrip(t *testing.T) {
	mod, err := AssembleSource(`
		function fact {
			load [0]
			loadconst !i64 0
			eq @i64
			jmpif base

			load [0]
			load [0]
			loadconst !i64 1
			sub @i64
			call [1] $"fact"
			mul @i64
			ret [0]

		label base
			loadconst !i64 1
			ret [0]
		}

		function main {
			loadconst !i64 5
			call [1] $"fact"
			halt
		}
	`)
	require.NoError(t, err)

	wire := Serialize(mod)
	decoded, err := Deserialize(wire)
	require.NoError(t, err)
	require.Equal(t, mod, decoded)

	machine := NewVirtualMachine(DefaultOptions())
	machine.LoadBytecode(decoded)
	machine.Run("main")

	require.NoError(t, machine.Err())
	assert.Equal(t, int64(120), topOfStack(t, machine).I64())
}

func TestGlobalDataUnitPacksStringLiteral(t *testing.T) {
	mod, err := AssembleSource(`
		global greeting {
			$"hi"
		}
	`)
	require.NoError(t, err)
	require.Len(t, mod, 1)
	assert.Equal(t, "greeting", mod[0].Name)
	require.Len(t, mod[0].Words, 1)
	assert.Equal(t, "hi", VMValue{bits: mod[0].Words[0]}.Str())
}

// DataType.Width matches spec §3's per-type semantic widths; PTR is
// I64-width and NONE has none.
func TestDataTypeWidths(t *testing.T) {
	cases := []struct {
		dt   DataType
		want int
	}{
		{DTNone, 0},
		{DTI8, 1},
		{DTI16, 2},
		{DTI32, 4},
		{DTI64, 8},
		{DTF32, 4},
		{DTF64, 8},
		{DTPtr, 8},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.dt.Width(), "%s width", c.dt)
	}
}

// "none" has no source spelling: @none/!none must be rejected, matching
// the original scanner's type table, which likewise omits it.
func TestLookupDataTypeRejectsNone(t *testing.T) {
	_, ok := LookupDataType("none")
	assert.False(t, ok)
}

func TestScannerRejectsUnterminatedString(t *testing.T) {
	_, err := NewScanner(`function main { loadconst !i64 1 $"oops `).Tokenize()
	assert.ErrorIs(t, err, errUnterminatedString)
}

func TestParserRejectsDuplicateLabel(t *testing.T) {
	_, err := AssembleSource(`
		function main {
		label again
			halt
		label again
			halt
		}
	`)
	assert.ErrorIs(t, err, errDuplicateLabel)
}

func TestParserRejectsUnknownLabel(t *testing.T) {
	_, err := AssembleSource(`
		function main {
			jmp nowhere
			halt
		}
	`)
	assert.ErrorIs(t, err, errUnknownLabel)
}

func TestUnknownEntryIsFatal(t *testing.T) {
	mod, err := AssembleSource(`function main { halt }`)
	require.NoError(t, err)

	machine := NewVirtualMachine(DefaultOptions())
	machine.LoadBytecode(mod)
	machine.Run("does-not-exist")

	assert.ErrorIs(t, machine.Err(), errUnknownEntry)
}
