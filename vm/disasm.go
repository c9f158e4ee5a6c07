package vm

import "fmt"

// DecodedInstruction is the dry-run counterpart of the interpreter's
// internal instruction struct: enough to print or compare, without any
// of the side-effecting fields the execute loop needs.
type DecodedInstruction struct {
	Offset int
	Op     Opcode
	Reg1   byte
	Reg2   byte
	Addr   byte
	IntNum byte
	Imm    Immediate
}

// Disassemble walks an instruction stream from offset 0 up to and
// including the first HLT (or to the end of the stream if there is none),
// using the same decode path Exec uses, without ever calling execute.
// Bytes after the first HLT are not listed. This is the dry
// run Testable Property #6 (assemble/disassemble round-trip) exercises,
// reusing one decoder instead of maintaining a second parallel one
// (mirrors the teacher's execInstructions(singleStep bool) sharing one
// decode path between normal run and single-step debug).
func Disassemble(code []byte) ([]DecodedInstruction, error) {
	m := &VM{code: code}
	var out []DecodedInstruction
	pos := 0
	for pos < len(code) {
		ins, err := m.decode(pos)
		if err != nil {
			return nil, err
		}
		out = append(out, DecodedInstruction{
			Offset: pos,
			Op:     ins.op,
			Reg1:   ins.reg1,
			Reg2:   ins.reg2,
			Addr:   ins.addr,
			IntNum: ins.intNum,
			Imm:    ins.imm,
		})
		pos = ins.nextPos + 1
		if ins.op == OpHlt {
			break
		}
	}
	return out, nil
}

func (d DecodedInstruction) String() string {
	switch d.Op.operandKind() {
	case operandNone:
		return d.Op.String()
	case operandInterruptNum:
		return fmt.Sprintf("%s %d", d.Op, d.IntNum)
	case operandImmediate:
		return fmt.Sprintf("%s %v", d.Op, d.Imm)
	case operandRegister:
		return fmt.Sprintf("%s R%d", d.Op, d.Reg1)
	case operandRegImmediate:
		return fmt.Sprintf("%s R%d %v", d.Op, d.Reg1, d.Imm)
	case operandTwoRegisters:
		return fmt.Sprintf("%s R%d R%d", d.Op, d.Reg1, d.Reg2)
	case operandAddress:
		return fmt.Sprintf("%s %d", d.Op, d.Addr)
	case operandRegShift:
		return fmt.Sprintf("%s R%d %v", d.Op, d.Reg1, d.Imm)
	default:
		return d.Op.String()
	}
}
