package vm

import "github.com/emlyons/pivm/aarch64"

// MMU is the processor side of translation: the EL1 memory system
// registers, TLB maintenance and interrupt masking. Each setter includes
// the barriers needed for the write to take effect before it returns.
type MMU interface {
	// MemoryFeatures reads ID_AA64MMFR0_EL1.
	MemoryFeatures() aarch64.MMFR0

	// MaskInterrupts masks IRQs and returns the previous mask state for
	// RestoreInterrupts.
	MaskInterrupts() uint64
	RestoreInterrupts(state uint64)

	SetMemoryAttributes(mair uint64)
	SetTranslationControl(tcr uint64)

	// SetKernelBase loads the kernel table into both TTBR0 and TTBR1.
	SetKernelBase(l2 PhysicalAddr)
	// SetUserBase loads a user table into TTBR1.
	SetUserBase(l2 PhysicalAddr)

	// EnableTranslation sets bits in SCTLR_EL1.
	EnableTranslation(bits uint64)

	InvalidatePage(va VirtualAddr)
	InvalidateAll()
}
