package vm

import "github.com/pkg/errors"

// Sentinel errors surfaced to the host process (§7). These mirror the
// teacher's vm/vm.go and vm/exec.go sentinel set (errProgramFinished,
// errSegmentationFault, errIllegalOperation, errUnknownInstruction, errIO)
// renamed to the fatal conditions this interpreter actually raises.
var (
	errDivisionByZero    = errors.New("division by zero")
	errStackUnderflow    = errors.New("stack underflow")
	errIllegalVariant    = errors.New("illegal immediate variant for operation")
	errUnknownInterrupt  = errors.New("unknown interrupt number")
	errHostIO            = errors.New("host I/O error")
	errProgramPanicked   = errors.New("program invoked INT 4 (panic)")
	errHeapBounds        = errors.New("heap address out of range")
	errInstructionBounds = errors.New("instruction address out of range")
)
