package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"avm/vm"
)

const benchmarkAttempts = 1000

func main() {
	var heapSize int

	rootCmd := &cobra.Command{
		Use:   "avm",
		Short: "register+stack virtual machine and textual assembler",
	}
	rootCmd.PersistentFlags().IntVar(&heapSize, "heap-size", vm.DefaultHeapSize, "initial heap capacity in cells")

	exeCmd := &cobra.Command{
		Use:   "exe <file>",
		Short: "load an assembled program and run it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExe(args[0], heapSize)
		},
	}

	benchCmd := &cobra.Command{
		Use:   "benchmark <file>",
		Short: "run an assembled program repeatedly and report timing percentiles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(args[0], heapSize)
		},
	}

	var useRawIO bool
	dbgCmd := &cobra.Command{
		Use:   "dbg <file>",
		Short: "load an assembled program and step through it interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDebugger(args[0], heapSize, useRawIO)
		},
	}
	dbgCmd.Flags().BoolVar(&useRawIO, "raw-io", true, "read single keypresses without waiting for Enter")

	asmCmd := &cobra.Command{
		Use:   "assemble <src> <out>",
		Short: "assemble a textual source file and write the enveloped bytecode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssemble(args[0], args[1])
		},
	}

	rootCmd.AddCommand(exeCmd, benchCmd, dbgCmd, asmCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadProgram(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read file %q", path)
	}
	code, err := vm.DecodeEnvelope(raw)
	if err != nil {
		return nil, errors.Wrap(err, "err deserializing machine code")
	}
	return code, nil
}

func runExe(path string, heapSize int) error {
	code, err := loadProgram(path)
	if err != nil {
		return err
	}
	m := vm.NewVM(code, heapSize)
	start := time.Now()
	runErr := m.Exec()
	took := time.Since(start)
	if runErr != nil {
		return runErr
	}
	fmt.Printf("[exited successfully in %s]\n", took)
	return nil
}

func runBenchmark(path string, heapSize int) error {
	code, err := loadProgram(path)
	if err != nil {
		return err
	}

	micros := make([]int64, 0, benchmarkAttempts)
	for i := 0; i < benchmarkAttempts; i++ {
		m := vm.NewVM(append([]byte(nil), code...), heapSize)
		start := time.Now()
		if err := m.Exec(); err != nil {
			return errors.Wrapf(err, "benchmark attempt %d", i)
		}
		micros = append(micros, time.Since(start).Microseconds())
	}
	sort.Slice(micros, func(i, j int) bool { return micros[i] < micros[j] })

	fast, slow := micros[0], micros[len(micros)-1]
	mid := len(micros) / 2
	var median int64
	if len(micros)%2 == 0 {
		median = (micros[mid-1] + micros[mid]) / 2
	} else {
		median = micros[mid]
	}
	var sum int64
	for _, v := range micros {
		sum += v
	}
	avg := float64(sum) / float64(len(micros))

	fmt.Printf("\n\nbenchmark fastest (microseconds): %d\n", fast)
	fmt.Printf("benchmark slowest (microseconds): %d\n", slow)
	fmt.Printf("benchmark median (microseconds): %d\n", median)
	fmt.Printf("benchmark average (microseconds): %v\n", avg)
	return nil
}

func runAssemble(srcPath, outPath string) error {
	src, err := os.ReadFile(srcPath)
	if err != nil {
		return errors.Wrapf(err, "unable to read file %q", srcPath)
	}

	asm := vm.NewAssembler(string(src))
	start := time.Now()
	code, err := asm.Assemble()
	took := time.Since(start)
	if err != nil {
		return err
	}
	fmt.Printf("took %s\n", took)

	if err := os.WriteFile(outPath, vm.EncodeEnvelope(code), 0o644); err != nil {
		return errors.Wrapf(err, "unable to write file %q", outPath)
	}
	fmt.Printf("wrote to %q\n", outPath)
	return nil
}
