package kernel

import (
	"github.com/emlyons/pivm/asm"
	"github.com/emlyons/pivm/config"
	"github.com/emlyons/pivm/vm"
)

type hwMMIO struct{}

func (hwMMIO) Read32(reg uintptr) uint32     { return asm.MmioRead(reg) }
func (hwMMIO) Write32(reg uintptr, v uint32) { asm.MmioWrite(reg, v) }
func (hwMMIO) Delay(count int32)             { asm.Delay(count) }

// Start is called by the boot stub with the end of the kernel image once
// the stack and BSS are set up. It runs at EL1 with the MMU off.
func Start(kernelEnd uintptr) {
	Init(BootConfig{
		Board:     config.Default(),
		IO:        hwMMIO{},
		MMU:       vm.HardwareMMU(),
		FreeStart: kernelEnd,
	})
}
