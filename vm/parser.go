package vm

import (
	"errors"
	"fmt"
)

var (
	errUnexpectedToken = errors.New("unexpected token")
	errDuplicateLabel  = errors.New("duplicate label")
	errUnknownLabel    = errors.New("unknown label")
)

// Parser consumes a token stream and produces the module's named
// units, resolving jump labels to PC-relative displacements as each
// function body closes. This mirrors
// original_source/src/assembler/parser.cpp's per-function
// streamOffset/labelOffsets/jump-backpatch bookkeeping, expressed with
// the teacher's struct-plus-methods parsing idiom (vm/compile.go).
type Parser struct {
	toks []Token
	pos  int
}

func NewParser(toks []Token) *Parser {
	return &Parser{toks: toks}
}

func (p *Parser) atEnd() bool { return p.pos >= len(p.toks) }

func (p *Parser) peek() (Token, bool) {
	if p.atEnd() {
		return Token{}, false
	}
	return p.toks[p.pos], true
}

func (p *Parser) advance() (Token, bool) {
	tok, ok := p.peek()
	if ok {
		p.pos++
	}
	return tok, ok
}

func (p *Parser) expect(t TokenType, what string) (Token, error) {
	tok, ok := p.advance()
	if !ok || tok.Type != t {
		return Token{}, fmt.Errorf("%w: expected %s", errUnexpectedToken, what)
	}
	return tok, nil
}

// Parse assembles the full token stream into an ordered module.
func (p *Parser) Parse() (Module, error) {
	var mod Module
	for !p.atEnd() {
		tok, _ := p.peek()
		switch tok.Type {
		case TokFunction:
			p.advance()
			unit, err := p.parseFunction()
			if err != nil {
				return nil, err
			}
			mod = append(mod, unit)
		case TokGlobal:
			p.advance()
			unit, err := p.parseGlobal()
			if err != nil {
				return nil, err
			}
			mod = append(mod, unit)
		default:
			return nil, fmt.Errorf("%w: expected \"function\" or \"global\"", errUnexpectedToken)
		}
	}
	return mod, nil
}

type jumpSite struct {
	offset int
	opcode Opcode
	label  string
}

func (p *Parser) parseFunction() (GlobalDataUnit, error) {
	nameTok, err := p.expect(TokName, "function name")
	if err != nil {
		return GlobalDataUnit{}, err
	}
	if _, err := p.expect(TokLeftBrace, "{"); err != nil {
		return GlobalDataUnit{}, err
	}

	var words []Word
	labelOffsets := make(map[string]int)
	var jumps []jumpSite

	for {
		tok, ok := p.peek()
		if !ok {
			return GlobalDataUnit{}, fmt.Errorf("%w: expected \"}\"", errUnexpectedToken)
		}
		if tok.Type == TokRightBrace {
			p.advance()
			break
		}
		if tok.Type == TokLabel {
			p.advance()
			labelTok, err := p.expect(TokName, "label name")
			if err != nil {
				return GlobalDataUnit{}, err
			}
			if _, exists := labelOffsets[labelTok.Text]; exists {
				return GlobalDataUnit{}, fmt.Errorf("%w: %q", errDuplicateLabel, labelTok.Text)
			}
			labelOffsets[labelTok.Text] = len(words)
			continue
		}
		if tok.Type != TokInstruction {
			return GlobalDataUnit{}, fmt.Errorf("%w: expected instruction or label", errUnexpectedToken)
		}
		p.advance()

		emitted, maybeJump, err := p.assembleInstruction(tok, len(words))
		if err != nil {
			return GlobalDataUnit{}, err
		}
		words = append(words, emitted...)
		if maybeJump != nil {
			jumps = append(jumps, *maybeJump)
		}
	}

	for _, j := range jumps {
		target, ok := labelOffsets[j.label]
		if !ok {
			return GlobalDataUnit{}, fmt.Errorf("%w: %q", errUnknownLabel, j.label)
		}
		displacement := int32(target - j.offset)
		words[j.offset] = EncodeHeader(InstructionHeader{Code: j.opcode, Data: displacement})
	}

	return GlobalDataUnit{Name: nameTok.Text, Words: words}, nil
}

// assembleInstruction consumes the operand tokens for one instruction
// token and returns the words it emits. If the instruction is a jump,
// the returned jumpSite records where to backpatch its displacement
// once the enclosing function's labels are all known.
func (p *Parser) assembleInstruction(tok Token, offset int) ([]Word, *jumpSite, error) {
	kind := opcodeOperandKind[tok.Opcode]

	switch kind {
	case operandNone:
		return []Word{EncodeHeader(InstructionHeader{Code: tok.Opcode})}, nil, nil

	case operandEmbedData:
		data, err := p.expect(TokEmbedData, "[number]")
		if err != nil {
			return nil, nil, err
		}
		return []Word{EncodeHeader(InstructionHeader{Code: tok.Opcode, Data: data.Data})}, nil, nil

	case operandDataLiteral:
		lit, err := p.expect(TokDataLiteral, "!type literal")
		if err != nil {
			return nil, nil, err
		}
		return []Word{
			EncodeHeader(InstructionHeader{Code: tok.Opcode}),
			lit.Value.Bits(),
		}, nil, nil

	case operandEmbedDataLit:
		data, err := p.expect(TokEmbedData, "[number]")
		if err != nil {
			return nil, nil, err
		}
		lit, err := p.expect(TokDataLiteral, "!type literal")
		if err != nil {
			return nil, nil, err
		}
		return []Word{
			EncodeHeader(InstructionHeader{Code: tok.Opcode, Data: data.Data}),
			lit.Value.Bits(),
		}, nil, nil

	case operandEmbedType:
		et, err := p.expect(TokEmbedType, "@type")
		if err != nil {
			return nil, nil, err
		}
		h := InstructionHeader{Code: tok.Opcode}
		h.OpType[0] = et.DType
		return []Word{EncodeHeader(h)}, nil, nil

	case operandTwoEmbedType:
		from, err := p.expect(TokEmbedType, "@fromtype")
		if err != nil {
			return nil, nil, err
		}
		to, err := p.expect(TokEmbedType, "@totype")
		if err != nil {
			return nil, nil, err
		}
		h := InstructionHeader{Code: tok.Opcode}
		h.OpType[0] = from.DType
		h.OpType[1] = to.DType
		return []Word{EncodeHeader(h)}, nil, nil

	case operandCallName:
		argc, err := p.expect(TokEmbedData, "[argc]")
		if err != nil {
			return nil, nil, err
		}
		name, err := p.expect(TokStringLiteral, "$\"name\"")
		if err != nil {
			return nil, nil, err
		}
		words := []Word{EncodeHeader(InstructionHeader{Code: tok.Opcode, Data: argc.Data})}
		words = append(words, packName(name.Text)...)
		return words, nil, nil

	case operandGlobalName:
		name, err := p.expect(TokStringLiteral, "$\"name\"")
		if err != nil {
			return nil, nil, err
		}
		words := []Word{EncodeHeader(InstructionHeader{Code: tok.Opcode})}
		words = append(words, packName(name.Text)...)
		return words, nil, nil

	case operandLabel:
		label, err := p.expect(TokName, "label name")
		if err != nil {
			return nil, nil, err
		}
		return []Word{EncodeHeader(InstructionHeader{Code: tok.Opcode})},
			&jumpSite{offset: offset, opcode: tok.Opcode, label: label.Text}, nil

	default:
		return nil, nil, fmt.Errorf("%w: opcode %s has no operand rule", errUnexpectedToken, tok.Opcode)
	}
}

func (p *Parser) parseGlobal() (GlobalDataUnit, error) {
	nameTok, err := p.expect(TokName, "global name")
	if err != nil {
		return GlobalDataUnit{}, err
	}
	if _, err := p.expect(TokLeftBrace, "{"); err != nil {
		return GlobalDataUnit{}, err
	}

	var words []Word
	for {
		tok, ok := p.peek()
		if !ok {
			return GlobalDataUnit{}, fmt.Errorf("%w: expected \"}\"", errUnexpectedToken)
		}
		if tok.Type == TokRightBrace {
			p.advance()
			break
		}
		p.advance()
		switch tok.Type {
		case TokStringLiteral:
			words = append(words, packName(tok.Text)...)
		case TokDataLiteral:
			words = append(words, tok.Value.Bits())
		default:
			return GlobalDataUnit{}, fmt.Errorf("%w: expected string or data literal in global body", errUnexpectedToken)
		}
	}

	return GlobalDataUnit{Name: nameTok.Text, Words: words}, nil
}

// packName lays out name out as 8-bytes-per-word NUL-padded chunks,
// always reserving a final all-terminator word even when len(name) is
// an exact multiple of 8 (spec §3's invariant; the original
// implementation's equivalent drops that word in that case, a defect
// not reproduced here).
func packName(name string) []Word {
	b := []byte(name)
	numFull := len(b) / 8

	words := make([]Word, 0, numFull+1)
	for i := 0; i < numFull; i++ {
		words = append(words, ValueFromString(string(b[i*8:(i+1)*8])).Bits())
	}
	words = append(words, ValueFromString(string(b[numFull*8:])).Bits())
	return words
}

// AssembleSource runs the full scan+parse pipeline over source text.
func AssembleSource(source string) (Module, error) {
	toks, err := NewScanner(source).Tokenize()
	if err != nil {
		return nil, err
	}
	return NewParser(toks).Parse()
}
