package vm

import (
	"github.com/emlyons/pivm/aarch64"
	"github.com/emlyons/pivm/asm"
)

type hardwareMMU struct{}

// HardwareMMU drives the real EL1 registers. It only works in the kernel:
// at EL0 every method traps.
func HardwareMMU() MMU { return hardwareMMU{} }

func (hardwareMMU) MemoryFeatures() aarch64.MMFR0 {
	return aarch64.ParseMMFR0(asm.ReadIdAa64mmfr0El1())
}

func (hardwareMMU) MaskInterrupts() uint64 { return asm.DisableIrqs() }

func (hardwareMMU) RestoreInterrupts(state uint64) { asm.WriteDaif(state) }

func (hardwareMMU) SetMemoryAttributes(mair uint64) {
	asm.WriteMairEl1(mair)
}

func (hardwareMMU) SetTranslationControl(tcr uint64) {
	asm.WriteTcrEl1(tcr)
	asm.Isb()
}

func (hardwareMMU) SetKernelBase(l2 PhysicalAddr) {
	asm.WriteTtbr0El1(uint64(l2))
	asm.WriteTtbr1El1(uint64(l2))
	asm.DsbIsh()
	asm.Isb()
}

func (hardwareMMU) SetUserBase(l2 PhysicalAddr) {
	asm.WriteTtbr1El1(uint64(l2))
	asm.DsbIsh()
	asm.Isb()
}

func (hardwareMMU) EnableTranslation(bits uint64) {
	asm.WriteSctlrEl1(asm.ReadSctlrEl1() | bits)
	asm.Dsb()
	asm.Isb()
}

// InvalidatePage and InvalidateAll carry their own DSB/ISB pairs.
func (hardwareMMU) InvalidatePage(va VirtualAddr) {
	asm.InvalidateTlbVaa(aarch64.TLBIVAOperand(uint64(va)))
}

func (hardwareMMU) InvalidateAll() { asm.InvalidateTlbAll() }
