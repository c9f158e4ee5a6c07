package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"avm/vm"
)

// runDebugger implements the interactive single-stepper named in the
// teacher's vm/run.go (RunProgramDebugMode): breakpoints by instruction
// offset, single-step, free-run, and a state dump after every step. The
// reference CLI's own "dbg" subcommand is just a dump of the raw byte
// vector; this is the richer behavior the teacher shows for this domain.
func runDebugger(path string, heapSize int, useRawIO bool) error {
	code, err := loadProgram(path)
	if err != nil {
		return err
	}
	m := vm.NewVM(code, heapSize)
	m.Begin()

	fmt.Print("commands:\n\tn or next: execute next instruction\n\tr or run: run to next breakpoint\n\tb <offset>: toggle a breakpoint\n\tq or quit: exit\n\n")
	printState(m)

	restore, rawErr := maybeSetRawIO(useRawIO)
	if restore != nil {
		defer restore()
	}
	rawIO := rawErr == nil && useRawIO

	reader := bufio.NewReader(os.Stdin)
	breakpoints := make(map[int]struct{})
	running := false

	for {
		var cmd string
		if running {
			if _, hit := breakpoints[m.PC()]; hit {
				fmt.Println("breakpoint")
				printState(m)
				running = false
				continue
			}
		} else {
			fmt.Print("\n-> ")
			if rawIO {
				cmd = readRawCommand(reader)
			} else {
				line, _ := reader.ReadString('\n')
				cmd = strings.ToLower(strings.TrimSpace(line))
			}
		}

		switch {
		case running:
			// fall through to single-step below
		case cmd == "n" || cmd == "next":
		case cmd == "r" || cmd == "run":
			// step once before checking breakpoints, so a run started on a
			// breakpoint moves on to the next one
			running = true
		case cmd == "q" || cmd == "quit":
			return nil
		case strings.HasPrefix(cmd, "b"):
			toggleBreakpoint(breakpoints, cmd)
			continue
		default:
			continue
		}

		more, err := m.Step()
		if running {
			// no per-step echo while free-running; only print on stop
		} else {
			printState(m)
		}
		if err != nil {
			fmt.Println(err)
			return err
		}
		if !more {
			fmt.Println("program finished")
			return nil
		}
	}
}

func toggleBreakpoint(breakpoints map[int]struct{}, cmd string) {
	fields := strings.Fields(cmd)
	if len(fields) < 2 {
		fmt.Println("usage: b <offset>")
		return
	}
	offset, err := strconv.Atoi(fields[1])
	if err != nil {
		fmt.Println("invalid offset:", err)
		return
	}
	if _, ok := breakpoints[offset]; ok {
		delete(breakpoints, offset)
	} else {
		breakpoints[offset] = struct{}{}
	}
}

func printState(m *vm.VM) {
	eq, gt := m.Flags()
	ins, err := m.PeekInstruction(m.PC())
	instrStr := "<end of program>"
	if err == nil {
		instrStr = ins.String()
	}
	fmt.Printf("pc=%04d eq=%t gt=%t stack_depth=%d next=%s\n", m.PC(), eq, gt, m.StackDepth(), instrStr)
	for i := 0; i < 16; i += 4 {
		fmt.Printf("  R%-2d=%-14s R%-2d=%-14s R%-2d=%-14s R%-2d=%-14s\n",
			i, m.Register(i), i+1, m.Register(i+1), i+2, m.Register(i+2), i+3, m.Register(i+3))
	}
}

// readRawCommand reads a single keystroke when raw IO is active, mapping
// it to the same command vocabulary the line-buffered prompt accepts.
func readRawCommand(r *bufio.Reader) string {
	b, err := r.ReadByte()
	if err != nil {
		return "q"
	}
	switch b {
	case 'n', 'N':
		return "n"
	case 'r', 'R':
		return "r"
	case 'q', 'Q':
		return "q"
	case 'b', 'B':
		fmt.Print("breakpoint offset: ")
		line, _ := r.ReadString('\n')
		return "b " + strings.TrimSpace(line)
	default:
		return ""
	}
}
