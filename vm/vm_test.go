package vm

import (
	"strings"
	"testing"
)

func compileAndRun(t *testing.T, source string) (*VM, string) {
	code, err := NewAssembler(source).Assemble()
	assert(t, err == nil, "failed to assemble: %s", err)

	m := NewVM(code, DefaultHeapSize)
	var out strings.Builder
	m.Stdout = &out
	m.Exit = func(int) {}

	err = m.Exec()
	return m, out.String()
}

func TestPushPopRoundTrip(t *testing.T) {
	m, _ := compileAndRun(t, "push u32$42 pop R3")
	assert(t, m.Err() == nil, "unexpected error: %s", m.Err())
	assert(t, m.Register(3).AsU32() == 42, "R3 should hold 42, got %v", m.Register(3))
	assert(t, m.StackDepth() == 0, "stack should be empty after pop, depth=%d", m.StackDepth())
}

func TestHelloA(t *testing.T) {
	// $ u32$0  $ u32$65  str 0 str 1  $ u32$0  int 0  hlt
	source := `
		push u32$0
		push u32$65
		hstore 0
		hstore 1
		push u32$0
		int 0
	`
	_, out := compileAndRun(t, source)
	assert(t, out == "A", "expected stdout %q, got %q", "A", out)
}

func TestIntegerArithmetic(t *testing.T) {
	// @ R0 i32$2  @ R1 i32$3  + R0 R1  % R2  hlt
	source := `
		ldi R0 i32$2
		ldi R1 i32$3
		add R0 R1
		pop R2
	`
	m, _ := compileAndRun(t, source)
	assert(t, m.Err() == nil, "unexpected error: %s", m.Err())
	assert(t, m.Register(2).AsI32() == 5, "R2 should hold 5, got %v", m.Register(2))
	assert(t, m.StackDepth() == 0, "stack should be empty, depth=%d", m.StackDepth())
}

func TestBranchOnEqual(t *testing.T) {
	// @ R0 u8$1  @ R1 u8$1  = R0 R1  /= done  @ R2 u8$99  .done  hlt
	source := `
		ldi R0 u8$1
		ldi R1 u8$1
		cmp R0 R1
		je done
		ldi R2 u8$99
		.done
	`
	m, _ := compileAndRun(t, source)
	assert(t, m.Err() == nil, "unexpected error: %s", m.Err())
	assert(t, m.Register(2).AsU8() == 0, "R2 should still hold 0 (LDI was skipped), got %v", m.Register(2))
}

func TestAllocateAndWrite(t *testing.T) {
	direct := `
		push u64$2
		int 1
		pop R0
		push u32$65
		hstorer R0
		push u32$0
		ldi R1 u64$1
		add R0 R1
		pop R2
		hstorer R2
		pushr R0
		int 0
	`
	_, out := compileAndRun(t, direct)
	assert(t, out == "A", "expected stdout %q, got %q", "A", out)
}

func TestPanicExitsWithMessage(t *testing.T) {
	source := `
		push u32$0
		push u32$69
		hstore 0
		hstore 1
		push u32$0
		int 4
	`
	exited := false
	code, err := NewAssembler(source).Assemble()
	assert(t, err == nil, "failed to assemble: %s", err)
	m := NewVM(code, DefaultHeapSize)
	var errOut strings.Builder
	m.Stderr = &errOut
	m.Exit = func(c int) { exited = true; assert(t, c == 1, "panic should exit with status 1, got %d", c) }

	_ = m.Exec()
	assert(t, exited, "INT 4 should invoke Exit")
	assert(t, strings.Contains(errOut.String(), "panicked with err message:\nE"), "unexpected panic message: %q", errOut.String())
}

func TestDivisionByZero(t *testing.T) {
	m, _ := compileAndRun(t, "ldi R0 i32$1 ldi R1 i32$0 div R0 R1")
	assert(t, m.Err() == errDivisionByZero, "expected division by zero, got %s", m.Err())
}

func TestSignedAddressIsFatalForInterrupts(t *testing.T) {
	m, _ := compileAndRun(t, "ldi R0 i32$0 pushr R0 int 0")
	assert(t, m.Err() != nil, "a signed-kind address argument to an interrupt must be fatal, got nil error")
}

func TestStackUnderflowOnPop(t *testing.T) {
	m, _ := compileAndRun(t, "pop R0")
	assert(t, m.Err() == errStackUnderflow, "expected stack underflow, got %s", m.Err())
}

func TestExecutionLatchClearsAfterHLT(t *testing.T) {
	m, _ := compileAndRun(t, "nop")
	assert(t, !m.Running(), "execution latch should be false after exec returns")
}

func TestExecIsSingleUse(t *testing.T) {
	code, err := NewAssembler("ldi R0 u8$1").Assemble()
	assert(t, err == nil, "failed to assemble: %s", err)
	m := NewVM(code, DefaultHeapSize)
	assert(t, m.Exec() == nil, "first exec should succeed")
	before := m.Register(0)
	assert(t, m.Exec() == nil, "re-entrant exec should be a no-op, not an error")
	assert(t, m.Register(0) == before, "state must not change on a no-op re-entrant exec")
}
