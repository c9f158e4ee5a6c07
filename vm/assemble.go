package vm

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// labelPatch is one entry of the assembler's patch list: a byte offset
// that needs the resolved address of a label inserted at offset-1, once
// every label declaration in the source has been seen (§4.2 patch pass).
type labelPatch struct {
	offset int
	name   string
}

// Assembler is a short-lived, single-use builder: construct one with
// NewAssembler, call Assemble once, discard it. It performs the single
// emit pass described by the original reference implementation, tracking
// the byte offset of the next byte to be written and deferring label
// resolution to a second patch pass.
type Assembler struct {
	src []rune
	pos int
	out []byte

	// bit is the virtual byte-count position: it counts every byte that
	// will exist in the *final* stream, including symbolic-jump address
	// placeholders that have been accounted for but not yet written to
	// out. A label declared after a pending symbolic jump must record
	// the jump's placeholder byte as already present, or its resolved
	// address would be off by one once the patch pass inserts it.
	bit int

	labels map[string]int
	patch  []labelPatch
}

// NewAssembler builds an assembler over source text. The caller need not
// append the NUL sentinel themselves; NewAssembler does it if missing.
func NewAssembler(source string) *Assembler {
	if !strings.HasSuffix(source, "\x00") {
		source += "\x00"
	}
	return &Assembler{
		src:    []rune(source),
		labels: make(map[string]int),
	}
}

const whitespace = " \t\r\n"

// Assemble runs the emit pass followed by the patch pass and returns the
// final byte stream, always ending in a trailing HLT byte.
func (a *Assembler) Assemble() ([]byte, error) {
	for {
		if a.peek() == 0 {
			break
		}
		a.skipWhitespace()
		if a.peek() == 0 {
			break
		}
		if err := a.assembleInstruction(); err != nil {
			return nil, err
		}
	}
	if err := a.runPatchPass(); err != nil {
		return nil, err
	}
	a.out = append(a.out, byte(OpHlt))
	return a.out, nil
}

func (a *Assembler) peek() rune {
	if a.pos >= len(a.src) {
		return 0
	}
	return a.src[a.pos]
}

func (a *Assembler) advance() {
	if a.pos < len(a.src) && a.src[a.pos] != 0 {
		a.pos++
	}
}

func (a *Assembler) skipWhitespace() {
	for strings.ContainsRune(whitespace, a.peek()) {
		a.advance()
	}
}

// readToken reads runes up to the next whitespace/NUL, then skips any
// trailing whitespace, matching the teacher's "read-then-skip" tokenizer
// shape (preprocessLine / rd_til_ws in the reference assembler).
func (a *Assembler) readToken() string {
	var sb strings.Builder
	for a.peek() != 0 && !strings.ContainsRune(whitespace, a.peek()) {
		sb.WriteRune(a.peek())
		a.advance()
	}
	a.skipWhitespace()
	return sb.String()
}

func (a *Assembler) assembleInstruction() error {
	tok := a.readToken()
	if tok == "" {
		return nil
	}

	if strings.HasPrefix(tok, ".") {
		name := strings.TrimPrefix(tok, ".")
		if !validLabelName(name) {
			return errors.Errorf("assemble: invalid label declaration %q", tok)
		}
		a.labels[name] = a.bit
		return nil
	}

	op, ok := mnemonicToOpcode[strings.ToLower(tok)]
	if !ok {
		return errors.Errorf("assemble: unknown opcode %q", tok)
	}
	a.emitByte(byte(op))

	switch op.operandKind() {
	case operandNone:
		return nil
	case operandInterruptNum:
		return a.emitAddressByte()
	case operandImmediate:
		return a.emitImmediateOperand()
	case operandRegister:
		return a.emitRegisterByte()
	case operandRegImmediate:
		if err := a.emitRegisterByte(); err != nil {
			return err
		}
		return a.emitImmediateOperand()
	case operandTwoRegisters:
		if err := a.emitRegisterByte(); err != nil {
			return err
		}
		return a.emitRegisterByte()
	case operandAddress:
		if op.isJump() {
			return a.emitJumpTarget()
		}
		return a.emitAddressByte()
	case operandRegShift:
		if err := a.emitRegisterByte(); err != nil {
			return err
		}
		return a.emitImmediateOperand()
	}
	return nil
}

func (a *Assembler) emitByte(b byte) {
	a.out = append(a.out, b)
	a.bit++
}

// emitRegisterByte parses an R<decimal> token in 0..15.
func (a *Assembler) emitRegisterByte() error {
	tok := a.readToken()
	if !strings.HasPrefix(tok, "R") && !strings.HasPrefix(tok, "r") {
		return errors.Errorf("assemble: expected register operand, got %q", tok)
	}
	n, err := strconv.Atoi(tok[1:])
	if err != nil || n < 0 || n > 15 {
		return errors.Errorf("assemble: invalid register operand %q", tok)
	}
	a.emitByte(byte(n))
	return nil
}

// emitAddressByte parses a bare <decimal> token in 0..255.
func (a *Assembler) emitAddressByte() error {
	tok := a.readToken()
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 || n > 255 {
		return errors.Errorf("assemble: invalid address operand %q", tok)
	}
	a.emitByte(byte(n))
	return nil
}

// emitJumpTarget accepts either a symbolic label (recorded in the patch
// list and resolved in the patch pass) or a raw decimal address (written
// inline immediately, unaffected by later patching).
func (a *Assembler) emitJumpTarget() error {
	tok := a.readToken()
	if tok == "" {
		return errors.New("assemble: missing jump target")
	}
	if n, err := strconv.Atoi(tok); err == nil {
		if n < 0 || n > 255 {
			return errors.Errorf("assemble: jump address out of range %q", tok)
		}
		a.emitByte(byte(n))
		return nil
	}
	// Symbolic label: account for the not-yet-written placeholder byte in
	// the virtual bit counter (so any label declared after this point
	// still resolves to its correct final-stream position), and remember
	// where to patch it in, per §4.2's emit pass.
	a.bit++
	a.patch = append(a.patch, labelPatch{offset: a.bit, name: tok})
	return nil
}

// emitImmediateOperand parses [-]<kind>$<value> and appends the tag byte
// plus little-endian payload.
func (a *Assembler) emitImmediateOperand() error {
	tok := a.readToken()
	im, err := parseImmediateLiteral(tok)
	if err != nil {
		return err
	}
	enc := im.Encode()
	a.out = append(a.out, enc...)
	a.bit += len(enc)
	return nil
}

func (a *Assembler) runPatchPass() error {
	for _, p := range a.patch {
		addr, ok := a.labels[p.name]
		if !ok {
			return errors.Errorf("assemble: unknown label %q", p.name)
		}
		if addr < 0 || addr > 255 {
			addr = addr & 0xFF
		}
		idx := p.offset - 1
		if idx < 0 || idx > len(a.out) {
			return errors.Errorf("assemble: invalid patch offset for label %q", p.name)
		}
		a.out = insertByte(a.out, idx, byte(addr))
	}
	return nil
}

func insertByte(b []byte, at int, v byte) []byte {
	out := make([]byte, 0, len(b)+1)
	out = append(out, b[:at]...)
	out = append(out, v)
	out = append(out, b[at:]...)
	return out
}

// parseImmediateLiteral parses a token of the form [-]<kind>$<value>
// where kind is one of u8,u16,u32,u64,i8,i16,i32,i64,f32,f64. The leading
// minus is only legal for signed integer and float kinds.
func parseImmediateLiteral(tok string) (Immediate, error) {
	neg := false
	if strings.HasPrefix(tok, "-") {
		neg = true
		tok = tok[1:]
	}
	parts := strings.SplitN(tok, "$", 2)
	if len(parts) != 2 {
		return Immediate{}, errors.Errorf("assemble: malformed immediate literal %q", tok)
	}
	kind, value := parts[0], parts[1]

	isUnsigned := strings.HasPrefix(kind, "u")
	if neg && isUnsigned {
		return Immediate{}, errors.Errorf("assemble: unsigned immediate %q cannot be negative", tok)
	}

	switch kind {
	case "u8":
		n, err := strconv.ParseUint(value, 10, 8)
		return U8(uint8(n)), wrapParseErr(err, tok)
	case "u16":
		n, err := strconv.ParseUint(value, 10, 16)
		return U16(uint16(n)), wrapParseErr(err, tok)
	case "u32":
		n, err := strconv.ParseUint(value, 10, 32)
		return U32(uint32(n)), wrapParseErr(err, tok)
	case "u64":
		n, err := strconv.ParseUint(value, 10, 64)
		return U64(n), wrapParseErr(err, tok)
	case "i8":
		n, err := strconv.ParseInt(value, 10, 8)
		if neg {
			n = -n
		}
		return I8(int8(n)), wrapParseErr(err, tok)
	case "i16":
		n, err := strconv.ParseInt(value, 10, 16)
		if neg {
			n = -n
		}
		return I16(int16(n)), wrapParseErr(err, tok)
	case "i32":
		n, err := strconv.ParseInt(value, 10, 32)
		if neg {
			n = -n
		}
		return I32(int32(n)), wrapParseErr(err, tok)
	case "i64":
		n, err := strconv.ParseInt(value, 10, 64)
		if neg {
			n = -n
		}
		return I64(n), wrapParseErr(err, tok)
	case "f32":
		n, err := strconv.ParseFloat(value, 32)
		if neg {
			n = -n
		}
		return F32(float32(n)), wrapParseErr(err, tok)
	case "f64":
		n, err := strconv.ParseFloat(value, 64)
		if neg {
			n = -n
		}
		return F64(n), wrapParseErr(err, tok)
	default:
		return Immediate{}, errors.Errorf("assemble: unknown immediate kind %q", kind)
	}
}

func wrapParseErr(err error, tok string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "assemble: invalid immediate literal %q", tok)
}

// validLabelName reports whether a label declaration contains no inner
// whitespace, mirroring the teacher's own label-validity check in
// preprocessLine.
func validLabelName(s string) bool {
	for _, r := range s {
		if unicode.IsSpace(r) {
			return false
		}
	}
	return s != ""
}
