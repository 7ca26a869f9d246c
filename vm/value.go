package vm

import (
	"encoding/binary"
	"math"
)

// wordOrder is the byte order used whenever a Word or VMValue crosses a
// byte-slice boundary (module container encode/decode, name packing).
// The container format itself is host-native and not portable across
// endiannesses (see spec §6); this implementation fixes that "native"
// order to little-endian, the same choice the teacher makes throughout
// vm/vm.go via binary.LittleEndian.
var wordOrder = binary.LittleEndian

// Every machine word is 8 bytes wide and is interpreted in exactly one of
// two ways depending on its position in the instruction stream: as an
// InstructionHeader or as a VMValue. Neither carries a runtime tag; the
// opcode and its optype hints tell the decoder which lane of a VMValue
// to read.
type Word = uint64

// DataType selects how a VMValue's 8 bytes should be read or written.
// Numbering is stable (NONE=0 .. PTR=7) because it is part of the
// on-disk and in-stream encoding.
type DataType uint8

const (
	DTNone DataType = iota
	DTI8
	DTI16
	DTI32
	DTI64
	DTF32
	DTF64
	DTPtr
)

var dataTypeNames = map[DataType]string{
	DTNone: "none",
	DTI8:   "i8",
	DTI16:  "i16",
	DTI32:  "i32",
	DTI64:  "i64",
	DTF32:  "f32",
	DTF64:  "f64",
	DTPtr:  "ptr",
}

// nameToDataType is the lexer-visible subset of data types: a source
// program can write "i32"/"ptr"/etc. as a type specifier, but "none" has
// no literal spelling (NONE is an internal "no type hint" marker, not
// something an assembler operand can name), matching the original
// scanner's own type table, which likewise has no "none" entry.
var nameToDataType = map[string]DataType{
	"i8":  DTI8,
	"i16": DTI16,
	"i32": DTI32,
	"i64": DTI64,
	"f32": DTF32,
	"f64": DTF64,
	"ptr": DTPtr,
}

func (d DataType) String() string {
	if s, ok := dataTypeNames[d]; ok {
		return s
	}
	return "?unknown-type?"
}

// LookupDataType maps a lexeme such as "i32" or "ptr" to its DataType.
func LookupDataType(name string) (DataType, bool) {
	dt, ok := nameToDataType[name]
	return dt, ok
}

// Width reports the semantic width in bytes of the given data type. PTR
// is I64-width for arithmetic and comparison purposes but is never a
// valid CONVERT target.
func (d DataType) Width() int {
	switch d {
	case DTI8:
		return 1
	case DTI16:
		return 2
	case DTI32:
		return 4
	case DTI64, DTF64, DTPtr:
		return 8
	case DTF32:
		return 4
	default:
		return 0
	}
}

// VMValue is one machine word reinterpreted as a number, a pointer, or
// eight raw characters. There is exactly one representation (the raw
// bit pattern); the typed accessors below are how callers pick a lane.
// This mirrors the teacher's own habit of keeping one raw register
// pattern and converting through it (uint32FromBytes/float32FromBytes)
// rather than carrying a tagged value around.
type VMValue struct {
	bits uint64
}

func ValueFromI64(v int64) VMValue { return VMValue{bits: uint64(v)} }
func ValueFromI32(v int32) VMValue { return VMValue{bits: uint64(uint32(v))} }
func ValueFromI16(v int16) VMValue { return VMValue{bits: uint64(uint16(v))} }
func ValueFromI8(v int8) VMValue   { return VMValue{bits: uint64(uint8(v))} }
func ValueFromF64(v float64) VMValue {
	return VMValue{bits: math.Float64bits(v)}
}
func ValueFromF32(v float32) VMValue {
	return VMValue{bits: uint64(math.Float32bits(v))}
}
func ValueFromPtr(v uint64) VMValue { return VMValue{bits: v} }

// ValueFromString packs up to 8 bytes of a string into a value, the way
// a single word-slot of a packed name is laid out in the instruction
// stream. Remaining bytes are zero (NUL) padded.
func ValueFromString(s string) VMValue {
	var buf [8]byte
	copy(buf[:], s)
	return VMValue{bits: wordOrder.Uint64(buf[:])}
}

func (v VMValue) I64() int64     { return int64(v.bits) }
func (v VMValue) I32() int32     { return int32(uint32(v.bits)) }
func (v VMValue) I16() int16     { return int16(uint16(v.bits)) }
func (v VMValue) I8() int8       { return int8(uint8(v.bits)) }
func (v VMValue) F64() float64   { return math.Float64frombits(v.bits) }
func (v VMValue) F32() float32   { return math.Float32frombits(uint32(v.bits)) }
func (v VMValue) Ptr() uint64    { return v.bits }
func (v VMValue) Bits() uint64   { return v.bits }

// Str returns the up-to-8 raw characters packed into this value, with
// trailing NUL bytes trimmed.
func (v VMValue) Str() string {
	var buf [8]byte
	wordOrder.PutUint64(buf[:], v.bits)
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n])
}

// Raw exposes the value's native-order byte representation (wordOrder),
// the inverse of ValueFromRaw.
func (v VMValue) Raw() [8]byte {
	var buf [8]byte
	wordOrder.PutUint64(buf[:], v.bits)
	return buf
}

func ValueFromRaw(buf [8]byte) VMValue {
	return VMValue{bits: wordOrder.Uint64(buf[:])}
}

// Opcode is the 1-byte operation selector carried by every instruction
// header. Numbering is stable and dense starting at 0 (see spec §6).
type Opcode uint8

const (
	OpNop Opcode = iota
	OpHalt

	OpLoad
	OpStore
	OpLoadConst
	OpStoreConst

	OpConvert
	OpAdd
	OpSub
	OpMul
	OpDiv

	OpLand
	OpLor
	OpLnot

	OpGt
	OpGeq
	OpLt
	OpLeq
	OpEq
	OpNotEq

	OpBand
	OpBor
	OpBxor
	OpBnot
	OpLshift
	OpRshift

	OpJmp
	OpJmpIf

	OpCreateLocals
	OpCall
	OpRet

	OpCallIndirect
	OpGetGlobal
)

// DecodeName reads a name packed by packName starting at words[start],
// mirroring original_source/src/exec/vmachine.cpp's
// ConsumeStringViewFromIns: it scans whole 8-byte chunks until it finds
// one containing a NUL byte, which packName's layout guarantees exists,
// and returns the bytes before that NUL. It reports how many words
// were consumed so the caller can advance its instruction pointer.
func DecodeName(words []Word, start int) (name string, consumed int) {
	var out []byte
	i := start
	for {
		var buf [8]byte
		wordOrder.PutUint64(buf[:], words[i])
		i++

		nul := -1
		for j, b := range buf {
			if b == 0 {
				nul = j
				break
			}
		}
		if nul >= 0 {
			out = append(out, buf[:nul]...)
			break
		}
		out = append(out, buf[:]...)
	}
	return string(out), i - start
}

// InstructionHeader is the packed record occupying one Word: an opcode,
// up to three DataType hints, and a signed 32-bit immediate.
type InstructionHeader struct {
	Code   Opcode
	OpType [3]DataType
	Data   int32
}

// EncodeHeader packs a header into its one-word wire representation:
// byte 0 is the opcode, bytes 1-3 are the optype hints, and the high
// 4 bytes are the signed data field.
func EncodeHeader(h InstructionHeader) Word {
	w := uint64(h.Code)
	w |= uint64(h.OpType[0]) << 8
	w |= uint64(h.OpType[1]) << 16
	w |= uint64(h.OpType[2]) << 24
	w |= uint64(uint32(h.Data)) << 32
	return w
}

// DecodeHeader unpacks a Word previously produced by EncodeHeader.
func DecodeHeader(w Word) InstructionHeader {
	return InstructionHeader{
		Code: Opcode(w & 0xFF),
		OpType: [3]DataType{
			DataType((w >> 8) & 0xFF),
			DataType((w >> 16) & 0xFF),
			DataType((w >> 24) & 0xFF),
		},
		Data: int32(uint32(w >> 32)),
	}
}
