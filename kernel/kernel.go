// Package kernel brings up the memory system at boot: console, logger,
// physical frame allocator and the memory manager, in that order.
package kernel

import (
	"github.com/sirupsen/logrus"

	"github.com/emlyons/pivm/config"
	"github.com/emlyons/pivm/frame"
	"github.com/emlyons/pivm/klog"
	"github.com/emlyons/pivm/vm"
)

var (
	// Console is the UART the kernel log goes to.
	Console *UART
	// Log is the kernel logger.
	Log *logrus.Logger
	// Frames hands out physical memory to the memory manager and to
	// everything else in the kernel.
	Frames frame.Allocator
	// VMM is the memory manager. It is initialized by Init.
	VMM *vm.Manager
)

// BootConfig is what the boot path knows when it calls Init.
type BootConfig struct {
	Board config.Board
	IO    MMIO
	MMU   vm.MMU
	// FreeStart is the first byte after the kernel image. Frames come from
	// [FreeStart, FreeEnd); FreeEnd defaults to the end of RAM.
	FreeStart uintptr
	FreeEnd   uintptr
}

// Init brings up the console and memory management. On return the MMU is
// on with the kernel identity map loaded.
func Init(c BootConfig) {
	Console = NewUART(c.IO, uintptr(c.Board.Memory.IOStart))
	Console.Init()

	Log = klog.New(Console, c.Board.Level())
	Log.ExitFunc = halt
	if err := c.Board.Validate(); err != nil {
		Log.WithError(err).Fatal("unusable board description")
	}

	end := c.FreeEnd
	if end == 0 {
		end = uintptr(c.Board.Memory.RAMEnd)
	}
	Frames.SetLog(klog.Module(Log, "frame"))
	Frames.Init(c.FreeStart, end)

	VMM = vm.NewManager(vm.ManagerConfig{
		Allocator: &Frames,
		MMU:       c.MMU,
		Layout:    c.Board.Layout(),
		Log:       klog.Module(Log, "vm"),
	})
	VMM.Initialize()

	s := Frames.Stats()
	Log.WithFields(logrus.Fields{
		"board": c.Board.Name,
		"free":  s.Free,
		"ttbr0": VMM.Kernel().BaseAddr(),
	}).Info("memory manager initialized")
}

// halt stands in for process exit after a Fatal record.
func halt(int) {
	for {
	}
}
