package vm

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// GlobalDataUnit is the deployable granularity shared by functions and
// raw data blobs: a name paired with an ordered sequence of machine
// words. For a function unit the words are executable code; for a
// data unit they are an opaque payload whose address becomes visible
// through GETGLOBAL.
type GlobalDataUnit struct {
	Name  string
	Words []Word
}

// Module is an ordered list of named units, the unit of assembly
// output, serialization, and loading.
type Module []GlobalDataUnit

const lengthPrefixSentinel = 0xFF

var (
	errMalformedContainer = errors.New("malformed module container")
	errTruncatedContainer = errors.New("truncated module container")
)

// Serialize encodes a module using the wire format from spec §4.4: for
// each unit, an ASCII decimal name-length, a 0xFF byte, the name bytes,
// an ASCII decimal byte-length (8 x word count), a 0xFF byte, and the
// word payload as raw bytes in native order. Units are concatenated
// with no outer header.
func Serialize(mod Module) []byte {
	var buf bytes.Buffer
	for _, unit := range mod {
		serializeUnit(&buf, unit)
	}
	return buf.Bytes()
}

func serializeUnit(buf *bytes.Buffer, unit GlobalDataUnit) {
	nameBytes := []byte(unit.Name)
	buf.WriteString(strconv.Itoa(len(nameBytes)))
	buf.WriteByte(lengthPrefixSentinel)
	buf.Write(nameBytes)

	payload := make([]byte, 0, len(unit.Words)*8)
	for _, w := range unit.Words {
		var b [8]byte
		wordOrder.PutUint64(b[:], w)
		payload = append(payload, b[:]...)
	}

	buf.WriteString(strconv.Itoa(len(payload)))
	buf.WriteByte(lengthPrefixSentinel)
	buf.Write(payload)
}

// Deserialize decodes a module previously produced by Serialize. A
// malformed length prefix or an unexpected end of stream is fatal, per
// spec §4.4.
//
// Unlike the original implementation this reconstructs words directly
// from the known-length byte payload rather than re-running a
// NUL-scanning string packer over it: the length prefix already gives
// an exact byte count, so there is nothing to scan for and no risk of
// the original's dropped-terminator defect on exact-multiple-of-8
// payloads.
func Deserialize(data []byte) (Module, error) {
	Log.Infow("deserializing module")

	var mod Module
	pos := 0
	for pos < len(data) {
		unit, consumed, err := deserializeUnit(data[pos:])
		if err != nil {
			return nil, err
		}
		mod = append(mod, unit)
		pos += consumed
	}

	Log.Infow("finished deserializing module", "units", len(mod))
	return mod, nil
}

func deserializeUnit(data []byte) (GlobalDataUnit, int, error) {
	nameLen, afterNameLen, err := readLengthPrefix(data)
	if err != nil {
		return GlobalDataUnit{}, 0, err
	}
	if afterNameLen+nameLen > len(data) {
		return GlobalDataUnit{}, 0, errTruncatedContainer
	}
	name := string(data[afterNameLen : afterNameLen+nameLen])
	pos := afterNameLen + nameLen

	payloadLen, afterPayloadLen, err := readLengthPrefix(data[pos:])
	if err != nil {
		return GlobalDataUnit{}, 0, err
	}
	pos += afterPayloadLen
	if pos+payloadLen > len(data) {
		return GlobalDataUnit{}, 0, errTruncatedContainer
	}
	if payloadLen%8 != 0 {
		return GlobalDataUnit{}, 0, fmt.Errorf("%w: payload length %d is not word-aligned", errMalformedContainer, payloadLen)
	}

	payload := data[pos : pos+payloadLen]
	words := make([]Word, payloadLen/8)
	for i := range words {
		words[i] = wordOrder.Uint64(payload[i*8 : i*8+8])
	}
	pos += payloadLen

	return GlobalDataUnit{Name: name, Words: words}, pos, nil
}

// readLengthPrefix reads an ASCII decimal integer terminated by a
// 0xFF byte, returning the parsed value and the number of bytes
// consumed (digits plus the terminator).
func readLengthPrefix(data []byte) (value int, consumed int, err error) {
	i := 0
	for i < len(data) && data[i] != lengthPrefixSentinel {
		i++
	}
	if i >= len(data) {
		return 0, 0, errTruncatedContainer
	}
	n, err := strconv.Atoi(string(data[:i]))
	if err != nil || n < 0 {
		return 0, 0, fmt.Errorf("%w: bad length prefix %q", errMalformedContainer, data[:i])
	}
	return n, i + 1, nil
}
