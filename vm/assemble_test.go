package vm

import "testing"

func assembleAndCheck(t *testing.T, source string) []byte {
	code, err := NewAssembler(source).Assemble()
	assert(t, err == nil, "failed to assemble: %s", err)
	return code
}

func TestAssembleAlwaysEndsInHLT(t *testing.T) {
	code := assembleAndCheck(t, "nop")
	assert(t, len(code) > 0, "assembled program should not be empty")
	assert(t, code[len(code)-1] == byte(OpHlt), "assembled program must end in HLT, got opcode %d", code[len(code)-1])
}

func TestAssembleUnknownOpcodeIsFatal(t *testing.T) {
	_, err := NewAssembler("frobnicate").Assemble()
	assert(t, err != nil, "unknown opcode should be a fatal assemble error")
}

func TestAssembleUnknownLabelIsFatal(t *testing.T) {
	_, err := NewAssembler("jmp nowhere").Assemble()
	assert(t, err != nil, "unresolved label should be a fatal assemble error")
}

func TestAssembleLabelPatching(t *testing.T) {
	// @ R0 u8$1  @ R1 u8$1  = R0 R1  /= done  @ R2 u8$99  .done  hlt
	source := "ldi R0 u8$1 ldi R1 u8$1 cmp R0 R1 je done ldi R2 u8$99 .done"
	code := assembleAndCheck(t, source)
	decoded, err := Disassemble(code)
	assert(t, err == nil, "disassemble failed: %s", err)
	assert(t, len(decoded) > 0, "expected at least one decoded instruction")
	assert(t, len(decoded) == 6, "expected 6 decoded instructions, got %d", len(decoded))
	jump, last := decoded[3], decoded[len(decoded)-1]
	assert(t, jump.Op == OpJe, "expected je as the fourth instruction, got %s", jump.Op)
	assert(t, last.Op == OpHlt && int(jump.Addr) == last.Offset, "je should target the trailing HLT at %d, got %d", last.Offset, jump.Addr)
}

func TestParseImmediateLiteral(t *testing.T) {
	im, err := parseImmediateLiteral("u32$65")
	assert(t, err == nil && im.AsU32() == 65, "u32$65 should parse to U32(65), got %v err=%s", im, err)

	im, err = parseImmediateLiteral("-i32$7")
	assert(t, err == nil && im.AsI32() == -7, "-i32$7 should parse to I32(-7), got %v err=%s", im, err)

	_, err = parseImmediateLiteral("-u32$7")
	assert(t, err != nil, "unsigned kind with leading minus should be rejected")

	im, err = parseImmediateLiteral("f32$1.5")
	assert(t, err == nil && im.AsF32() == 1.5, "f32$1.5 should parse to F32(1.5), got %v err=%s", im, err)
}
