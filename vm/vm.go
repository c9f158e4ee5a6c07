package vm

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// DefaultHeapSize is the heap capacity a VM is constructed with unless the
// caller overrides it (§6: "Default initial heap size 1024 cells").
const DefaultHeapSize = 1024

// instruction is one decoded instruction together with nextPos, the
// offset of its own last byte (one less than the next instruction's
// opcode byte), so the main loop can set pc to it and let the
// unconditional pc++ do the rest.
type instruction struct {
	op      Opcode
	reg1    byte
	reg2    byte
	addr    byte
	intNum  byte
	imm     Immediate
	nextPos int
}

// VM owns all mutable runtime state for exactly one program run (§3
// Lifecycles: single-use, gated by the execution latch).
type VM struct {
	code []byte

	pc        int
	stack     []Immediate
	registers [16]Immediate
	heap      []Immediate
	flagEq    bool
	flagGt    bool

	running bool // the execution latch: true while exec() is looping
	started bool // true once exec() has been entered at all (re-entry guard)
	err     error

	Stdout io.Writer
	Stderr io.Writer

	// DebugLog mirrors the teacher's strings.Builder-backed trace buffer
	// (vm/run.go's debugOut): when non-nil, each executed instruction
	// appends one formatted line holding the PC, the opcode and the flags.
	DebugLog *strings.Builder

	// Exit is called by INT 4 (PANIC) after writing the message to
	// Stderr. Defaults to os.Exit; tests override it to avoid killing
	// the test binary.
	Exit func(code int)
}

// NewVM constructs an interpreter over an immutable instruction stream,
// with a heap of heapSize cells all initialized to None and a register
// file of 16 slots all initialized to U8(0), per §3's Data Model.
func NewVM(code []byte, heapSize int) *VM {
	if heapSize <= 0 {
		heapSize = DefaultHeapSize
	}
	heap := make([]Immediate, heapSize)
	for i := range heap {
		heap[i] = None()
	}
	regs := [16]Immediate{}
	for i := range regs {
		regs[i] = U8(0)
	}
	return &VM{
		code:      code,
		registers: regs,
		heap:      heap,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		Exit:      os.Exit,
	}
}

// Err returns the error that ended the last Exec call, if any.
func (m *VM) Err() error { return m.err }

// PC returns the current program counter.
func (m *VM) PC() int { return m.pc }

// Running reports whether the execution latch is still set.
func (m *VM) Running() bool { return m.running }

// Flags returns the eq/gt comparison flags.
func (m *VM) Flags() (eq, gt bool) { return m.flagEq, m.flagGt }

// Register returns the contents of register r (0..15).
func (m *VM) Register(r int) Immediate { return m.registers[r] }

// StackDepth returns the number of values currently on the value stack.
func (m *VM) StackDepth() int { return len(m.stack) }

// CodeLen returns the length of instruction memory in bytes.
func (m *VM) CodeLen() int { return len(m.code) }

// PeekInstruction decodes, without executing, the instruction at pos.
func (m *VM) PeekInstruction(pos int) (DecodedInstruction, error) {
	ins, err := m.decode(pos)
	if err != nil {
		return DecodedInstruction{}, err
	}
	return DecodedInstruction{
		Offset: pos,
		Op:     ins.op,
		Reg1:   ins.reg1,
		Reg2:   ins.reg2,
		Addr:   ins.addr,
		IntNum: ins.intNum,
		Imm:    ins.imm,
	}, nil
}

// Exec runs the fetch-decode-execute loop to completion. Re-entry on an
// already-started VM is a no-op, matching the execution-latch invariant:
// after Exec returns (by any path) the latch is false.
func (m *VM) Exec() error {
	if m.started {
		return m.err
	}
	m.started = true
	m.running = true

	defer func() {
		m.running = false
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				m.err = e
			} else {
				m.err = errors.Errorf("vm: %v", r)
			}
		}
	}()

	for m.running && m.pc < len(m.code) {
		if !m.stepLocked() {
			break
		}
	}
	return m.err
}

// Begin arms the execution latch without running the loop, so a caller
// (the interactive debugger) can drive execution one Step at a time.
// Re-entry after the latch has already been armed is a no-op, matching
// Exec's own single-use guarantee.
func (m *VM) Begin() {
	if m.started {
		return
	}
	m.started = true
	m.running = true
}

// Step decodes and executes exactly one instruction and reports whether
// the program is still runnable (pc in range and the latch still set).
// Callers must call Begin first.
func (m *VM) Step() (runnable bool, err error) {
	if !m.running {
		return false, m.err
	}
	if m.pc >= len(m.code) {
		m.running = false
		return false, m.err
	}
	ok := m.stepLocked()
	if ok && m.pc >= len(m.code) {
		m.running = false
	}
	return ok && m.running, m.err
}

// stepLocked decodes and executes the instruction at the current pc,
// recovering from any panic raised during execute (mirrors the teacher's
// getDefaultRecoverFuncForVM wrapping RunProgram/RunProgramDebugMode). It
// reports whether the caller's loop should keep going.
func (m *VM) stepLocked() (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				m.err = e
			} else {
				m.err = errors.Errorf("vm: %v", r)
			}
			m.running = false
			cont = false
		}
	}()

	instr, err := m.decode(m.pc)
	if err != nil {
		m.err = err
		m.running = false
		return false
	}
	if m.DebugLog != nil {
		fmt.Fprintf(m.DebugLog, "%04d %s\n", m.pc, m.formatInstruction(instr))
	}
	m.pc = instr.nextPos
	if err := m.execute(instr); err != nil {
		m.err = err
		m.running = false
		return false
	}
	if !m.running {
		return false
	}
	m.pc++
	return true
}

// decode reads one instruction starting at pos. Unknown opcode bytes
// decode to NOP (§4.3/§8 boundary behavior); unknown immediate tags
// decode to None with zero payload bytes consumed (handled inside
// DecodeImmediate).
func (m *VM) decode(pos int) (instruction, error) {
	if pos < 0 || pos >= len(m.code) {
		return instruction{}, errors.Wrapf(errInstructionBounds, "pc=%d", pos)
	}
	op, _ := validOpcode(m.code[pos])
	cursor := pos + 1
	ins := instruction{op: op}

	switch op.operandKind() {
	case operandNone:
	case operandInterruptNum:
		b, err := m.byteAt(cursor)
		if err != nil {
			return instruction{}, err
		}
		ins.intNum = b
		cursor++
	case operandImmediate:
		imm, n, err := DecodeImmediate(m.code, cursor)
		if err != nil {
			return instruction{}, err
		}
		ins.imm = imm
		cursor += n
	case operandRegister:
		b, err := m.byteAt(cursor)
		if err != nil {
			return instruction{}, err
		}
		ins.reg1 = b
		cursor++
	case operandRegImmediate:
		b, err := m.byteAt(cursor)
		if err != nil {
			return instruction{}, err
		}
		ins.reg1 = b
		cursor++
		imm, n, err := DecodeImmediate(m.code, cursor)
		if err != nil {
			return instruction{}, err
		}
		ins.imm = imm
		cursor += n
	case operandTwoRegisters:
		b1, err := m.byteAt(cursor)
		if err != nil {
			return instruction{}, err
		}
		b2, err := m.byteAt(cursor + 1)
		if err != nil {
			return instruction{}, err
		}
		ins.reg1, ins.reg2 = b1, b2
		cursor += 2
	case operandAddress:
		b, err := m.byteAt(cursor)
		if err != nil {
			return instruction{}, err
		}
		ins.addr = b
		cursor++
	case operandRegShift:
		b, err := m.byteAt(cursor)
		if err != nil {
			return instruction{}, err
		}
		ins.reg1 = b
		cursor++
		imm, n, err := DecodeImmediate(m.code, cursor)
		if err != nil {
			return instruction{}, err
		}
		ins.imm = imm
		cursor += n
	}
	ins.nextPos = cursor - 1
	return ins, nil
}

func (m *VM) byteAt(pos int) (byte, error) {
	if pos < 0 || pos >= len(m.code) {
		return 0, errors.Wrapf(errInstructionBounds, "operand byte at %d", pos)
	}
	return m.code[pos], nil
}

func (m *VM) execute(ins instruction) error {
	switch ins.op {
	case OpNop:
		return nil
	case OpHlt:
		m.running = false
		return nil
	case OpInt:
		return m.interrupt(int(ins.intNum))
	case OpPush:
		m.push(ins.imm)
		return nil
	case OpPushR:
		m.push(m.registers[ins.reg1])
		return nil
	case OpPop:
		v, err := m.pop()
		if err != nil {
			return err
		}
		m.registers[ins.reg1] = v
		return nil
	case OpLdi:
		m.registers[ins.reg1] = ins.imm
		return nil
	case OpCpy:
		m.registers[ins.reg2] = m.registers[ins.reg1]
		return nil
	case OpJmp:
		m.pc = int(ins.addr) - 1
		return nil
	case OpJe:
		return m.condJump(ins, m.flagEq)
	case OpJne:
		return m.condJump(ins, !m.flagEq)
	case OpJg:
		return m.condJump(ins, m.flagGt)
	case OpJl:
		return m.condJump(ins, !m.flagGt)
	case OpCmp:
		eq, err := Equal(m.registers[ins.reg1], m.registers[ins.reg2])
		if err != nil {
			return errors.Wrap(errIllegalVariant, err.Error())
		}
		gt, err := Greater(m.registers[ins.reg1], m.registers[ins.reg2])
		if err != nil {
			return errors.Wrap(errIllegalVariant, err.Error())
		}
		m.flagEq, m.flagGt = eq, gt
		return nil
	case OpAdd, OpSub, OpMul, OpDiv:
		return m.binaryArith(ins)
	case OpAnd, OpOr, OpXor:
		return m.binaryBitwise(ins)
	case OpShr, OpShl:
		return m.shiftOp(ins)
	case OpHStore:
		v, err := m.pop()
		if err != nil {
			return err
		}
		return m.heapStore(int(ins.addr), v)
	case OpHStoreR:
		v, err := m.pop()
		if err != nil {
			return err
		}
		addr, ok := m.registers[ins.reg1].AsAddress()
		if !ok {
			return errIllegalVariant
		}
		return m.heapStore(int(addr), v)
	case OpHLoad:
		v, err := m.heapLoad(int(ins.addr))
		if err != nil {
			return err
		}
		m.push(v)
		return nil
	case OpHLoadR:
		addr, ok := m.registers[ins.reg1].AsAddress()
		if !ok {
			return errIllegalVariant
		}
		v, err := m.heapLoad(int(addr))
		if err != nil {
			return err
		}
		m.push(v)
		return nil
	default:
		return nil
	}
}

func (m *VM) condJump(ins instruction, take bool) error {
	if !take {
		return nil
	}
	m.pc = int(ins.addr) - 1
	return nil
}

func (m *VM) push(v Immediate) { m.stack = append(m.stack, v) }

func (m *VM) pop() (Immediate, error) {
	if len(m.stack) == 0 {
		return Immediate{}, errStackUnderflow
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

func (m *VM) binaryArith(ins instruction) error {
	a, b := m.registers[ins.reg1], m.registers[ins.reg2]
	var result Immediate
	var err error
	switch ins.op {
	case OpAdd:
		result, err = Add(a, b)
	case OpSub:
		result, err = Sub(a, b)
	case OpMul:
		result, err = Mul(a, b)
	case OpDiv:
		result, err = Div(a, b)
	}
	if err != nil {
		if errors.Is(err, errDivisionByZero) {
			return errDivisionByZero
		}
		return errors.Wrap(errIllegalVariant, err.Error())
	}
	m.push(result)
	return nil
}

func (m *VM) binaryBitwise(ins instruction) error {
	a, b := m.registers[ins.reg1], m.registers[ins.reg2]
	var result Immediate
	var err error
	switch ins.op {
	case OpAnd:
		result, err = And(a, b)
	case OpOr:
		result, err = Or(a, b)
	case OpXor:
		result, err = Xor(a, b)
	}
	if err != nil {
		return errors.Wrap(errIllegalVariant, err.Error())
	}
	m.push(result)
	return nil
}

func (m *VM) shiftOp(ins instruction) error {
	v := m.registers[ins.reg1]
	var result Immediate
	var err error
	if ins.op == OpShr {
		result, err = Shr(v, ins.imm)
	} else {
		result, err = Shl(v, ins.imm)
	}
	if err != nil {
		return errors.Wrap(errIllegalVariant, err.Error())
	}
	m.push(result)
	return nil
}

func (m *VM) heapStore(addr int, v Immediate) error {
	if addr < 0 || addr >= len(m.heap) {
		return errors.Wrapf(errHeapBounds, "addr=%d", addr)
	}
	m.heap[addr] = v
	return nil
}

func (m *VM) heapLoad(addr int) (Immediate, error) {
	if addr < 0 || addr >= len(m.heap) {
		return Immediate{}, errors.Wrapf(errHeapBounds, "addr=%d", addr)
	}
	return m.heap[addr], nil
}

// readHeapString reads U32 cells starting at addr as Unicode scalar
// values until a U32(0) terminator, per the WRITE/READ_FILE string
// encoding shared by both interrupts.
func (m *VM) readHeapString(addr int) (string, error) {
	var sb strings.Builder
	for {
		cell, err := m.heapLoad(addr)
		if err != nil {
			return "", err
		}
		if cell.Kind != KindU32 {
			return "", errors.Wrap(errIllegalVariant, "heap string cell is not U32")
		}
		code := cell.AsU32()
		if code == 0 {
			break
		}
		if !utf8.ValidRune(rune(code)) {
			return "", errors.New("heap string: invalid unicode scalar value")
		}
		sb.WriteRune(rune(code))
		addr++
	}
	return sb.String(), nil
}

// writeHeapString writes s as U32 cells starting at a freshly allocated
// buffer (via the HEAP_ALLOC interrupt semantics) and returns the buffer
// start address.
func (m *VM) writeHeapString(s string) (uint64, error) {
	runes := []rune(s)
	start, err := m.heapAlloc(uint64(len(runes) + 1))
	if err != nil {
		return 0, err
	}
	for i, r := range runes {
		if err := m.heapStore(int(start)+i, U32(uint32(r))); err != nil {
			return 0, err
		}
	}
	if err := m.heapStore(int(start)+len(runes), U32(0)); err != nil {
		return 0, err
	}
	return start, nil
}

func (m *VM) formatInstruction(ins instruction) string {
	return fmt.Sprintf("%-8s eq=%t gt=%t", ins.op.String(), m.flagEq, m.flagGt)
}
