package vm

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// interrupt dispatches one of the five host-service interrupts (§4.4).
// All five read their operands off the value stack; addresses may be U8,
// U16, U32 or U64, everything else (signed kinds included) is fatal.
func (m *VM) interrupt(n int) error {
	switch n {
	case 0:
		return m.intWrite()
	case 1:
		return m.intHeapAllocTop()
	case 2:
		return m.intReadFile()
	case 3:
		return m.intWriteFile()
	case 4:
		return m.intPanic()
	default:
		return errors.Wrapf(errUnknownInterrupt, "int %d", n)
	}
}

// intWrite is INT 0 — WRITE: pop a heap address, read a NUL-terminated
// U32 string starting there, write it to standard output.
func (m *VM) intWrite() error {
	addr, err := m.popAddress()
	if err != nil {
		return err
	}
	s, err := m.readHeapString(int(addr))
	if err != nil {
		return err
	}
	_, werr := fmt.Fprint(m.Stdout, s)
	return werr
}

// intHeapAllocTop is INT 1 — HEAP_ALLOC: pop a length, allocate, push the
// resulting U64 address.
func (m *VM) intHeapAllocTop() error {
	n, err := m.popAddress()
	if err != nil {
		return err
	}
	addr, err := m.heapAlloc(n)
	if err != nil {
		return err
	}
	m.push(U64(addr))
	return nil
}

// heapAlloc implements the first-fit allocator with the documented
// growth-path off-by-one (§4.4, §9): on first-fit success it returns the
// lowest address that starts a run of n None cells, zeroing those cells. On
// failure it appends n zero cells and returns oldLen-1, intentionally
// overlapping the last pre-existing cell — this exact return value is
// reference behavior, not a bug to "fix".
func (m *VM) heapAlloc(n uint64) (uint64, error) {
	if n == 0 {
		return uint64(len(m.heap)), nil
	}
	run := 0
	for i, cell := range m.heap {
		if cell.Kind == KindNone {
			run++
			if uint64(run) == n {
				start := i - run + 1
				for j := start; j <= i; j++ {
					m.heap[j] = U8(0)
				}
				return uint64(start), nil
			}
		} else {
			run = 0
		}
	}
	oldLen := len(m.heap)
	for i := uint64(0); i < n; i++ {
		m.heap = append(m.heap, U8(0))
	}
	return uint64(oldLen - 1), nil
}

// intReadFile is INT 2 — READ_FILE.
func (m *VM) intReadFile() error {
	pathAddr, err := m.popAddress()
	if err != nil {
		return err
	}
	path, err := m.readHeapString(int(pathAddr))
	if err != nil {
		return err
	}

	data, rerr := os.ReadFile(path)
	if rerr != nil {
		m.push(U64(0))
		m.push(U8(0))
		return nil
	}

	bufStart, werr := m.writeHeapString(string(data))
	if werr != nil {
		return errors.Wrap(errHostIO, werr.Error())
	}
	m.push(U64(bufStart))
	m.push(U8(1))
	return nil
}

// intWriteFile is INT 3 — WRITE_FILE. Operand order per §4.4: the buffer
// address is popped first, then the path address.
func (m *VM) intWriteFile() error {
	bufAddr, err := m.popAddress()
	if err != nil {
		return err
	}
	pathAddr, err := m.popAddress()
	if err != nil {
		return err
	}

	path, err := m.readHeapString(int(pathAddr))
	if err != nil {
		return err
	}
	buf, err := m.readHeapString(int(bufAddr))
	if err != nil {
		return err
	}

	if werr := os.WriteFile(path, []byte(buf), 0o644); werr != nil {
		m.push(U8(0))
		return nil
	}
	m.push(U8(1))
	return nil
}

// intPanic is INT 4 — PANIC: terminate the host process with status 1
// after writing the message to standard error.
func (m *VM) intPanic() error {
	addr, err := m.popAddress()
	if err != nil {
		return err
	}
	msg, err := m.readHeapString(int(addr))
	if err != nil {
		return err
	}
	fmt.Fprintf(m.Stderr, "panicked with err message:\n%s", msg)
	if m.Exit != nil {
		m.Exit(1)
	}
	return errProgramPanicked
}

func (m *VM) popAddress() (uint64, error) {
	v, err := m.pop()
	if err != nil {
		return 0, err
	}
	addr, ok := v.AsAddress()
	if !ok {
		return 0, errors.Wrap(errIllegalVariant, "interrupt operand is not an address-kind immediate")
	}
	return addr, nil
}
