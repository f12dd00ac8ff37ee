package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/emlyons/pivm/aarch64"
	"github.com/emlyons/pivm/config"
	"github.com/emlyons/pivm/klog"
	"github.com/emlyons/pivm/vm"
)

// kernelCmd implements subcommands.Command for the "kernel" command.
type kernelCmd struct {
	board string
	out   io.Writer
}

// Name implements subcommands.Command.Name.
func (*kernelCmd) Name() string { return "kernel" }

// Synopsis implements subcommands.Command.Synopsis.
func (*kernelCmd) Synopsis() string { return "build the kernel identity map and summarize it" }

// Usage implements subcommands.Command.Usage.
func (*kernelCmd) Usage() string {
	return `kernel [-board board.toml] - initialize a memory manager on a simulated MMU and print the kernel map
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (k *kernelCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&k.board, "board", "", "board description; the Raspberry Pi 3 when empty.")
}

// Execute implements subcommands.Command.Execute.
func (k *kernelCmd) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	board, err := loadBoard(k.board)
	if err != nil {
		fmt.Fprintf(k.out, "vmctl: %v\n", err)
		return subcommands.ExitFailure
	}
	if err := summarizeKernel(k.out, board, loggerFrom(args)); err != nil {
		fmt.Fprintf(k.out, "vmctl: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type kernelSummary struct {
	ram, device int
	first, last vm.VirtualAddr
}

func summarize(k *vm.KernelAddressSpace) kernelSummary {
	var s kernelSummary
	n := 0
	for va, e := range k.All() {
		if n == 0 {
			s.first = va
		}
		s.last = va
		n++
		if e.Attr() == aarch64.Dev {
			s.device++
		} else {
			s.ram++
		}
	}
	return s
}

// summarizeKernel initializes a manager for board on a simulated MMU and
// prints the resulting kernel map and register values.
func summarizeKernel(w io.Writer, board config.Board, log *logrus.Logger) error {
	arena, err := newArena(kernelTables, log)
	if err != nil {
		return err
	}
	defer arena.Close()

	mmu := vm.NewSimMMU()
	m := vm.NewManager(vm.ManagerConfig{
		Allocator: arena,
		MMU:       mmu,
		Layout:    board.Layout(),
		Log:       klog.Module(log, "vm"),
	})
	m.Initialize()
	k := m.Kernel()

	s := summarize(k)
	fmt.Fprintf(w, "board %s\n", board.Name)
	fmt.Fprintf(w, "  ram  %s: %d pages\n", k.Layout().RAM, s.ram)
	fmt.Fprintf(w, "  mmio %s: %d pages\n", k.Layout().IO, s.device)
	fmt.Fprintf(w, "  mapped %s .. %s\n", s.first, s.last)
	for i := 0; i < vm.NumL3Tables; i++ {
		e := k.L2Entry(i)
		fmt.Fprintf(w, "  L2[%d] -> L3 at %#x (%s)\n", i, e.OutputAddress(), e.AP())
	}
	fmt.Fprintf(w, "  MAIR_EL1  0x%016x\n", mmu.MAIR)
	fmt.Fprintf(w, "  TCR_EL1   0x%016x\n", mmu.TCR)
	fmt.Fprintf(w, "  SCTLR_EL1 0x%016x\n", mmu.SCTLR)
	return nil
}
