package vm

import (
	"fmt"

	"github.com/emlyons/pivm/aarch64"
)

// Cortex-A53 ID_AA64MMFR0_EL1: 40-bit PA, 16-bit ASIDs, all granules.
const cortexA53MMFR0 = 0x0000_0000_0000_1122

// SimMMU is an MMU that only records what is written to it. Hosted tools
// and tests use it in place of the hardware.
type SimMMU struct {
	MMFR0 uint64
	MAIR  uint64
	TCR   uint64
	TTBR0 PhysicalAddr
	TTBR1 PhysicalAddr
	SCTLR uint64

	// Masked is true between MaskInterrupts and the matching
	// RestoreInterrupts.
	Masked bool

	// Ops is the log of operations in the order they were issued, e.g.
	// "mask", "mair=0x4404ff", "ttbr1=0x...".
	Ops []string
	// UnmaskedWrites counts register writes issued with interrupts
	// enabled.
	UnmaskedWrites int
	// Invalidated lists the pages passed to InvalidatePage.
	Invalidated []VirtualAddr
	// Flushes counts InvalidateAll calls.
	Flushes int
}

// NewSimMMU returns a SimMMU that reports a Cortex-A53.
func NewSimMMU() *SimMMU {
	return &SimMMU{MMFR0: cortexA53MMFR0}
}

func (s *SimMMU) record(format string, args ...interface{}) {
	s.Ops = append(s.Ops, fmt.Sprintf(format, args...))
}

func (s *SimMMU) write(format string, args ...interface{}) {
	if !s.Masked {
		s.UnmaskedWrites++
	}
	s.record(format, args...)
}

func (s *SimMMU) MemoryFeatures() aarch64.MMFR0 {
	return aarch64.ParseMMFR0(s.MMFR0)
}

func (s *SimMMU) MaskInterrupts() uint64 {
	prev := uint64(0)
	if s.Masked {
		prev = 1
	}
	s.Masked = true
	s.record("mask")
	return prev
}

func (s *SimMMU) RestoreInterrupts(state uint64) {
	s.Masked = state != 0
	s.record("restore")
}

func (s *SimMMU) SetMemoryAttributes(mair uint64) {
	s.MAIR = mair
	s.write("mair=%#x", mair)
}

func (s *SimMMU) SetTranslationControl(tcr uint64) {
	s.TCR = tcr
	s.write("tcr=%#x", tcr)
}

func (s *SimMMU) SetKernelBase(l2 PhysicalAddr) {
	s.TTBR0, s.TTBR1 = l2, l2
	s.write("ttbr0=ttbr1=%s", l2)
}

func (s *SimMMU) SetUserBase(l2 PhysicalAddr) {
	s.TTBR1 = l2
	s.write("ttbr1=%s", l2)
}

func (s *SimMMU) EnableTranslation(bits uint64) {
	s.SCTLR |= bits
	s.write("sctlr|=%#x", bits)
}

func (s *SimMMU) InvalidatePage(va VirtualAddr) {
	s.Invalidated = append(s.Invalidated, va)
	s.record("tlbi va=%s", va)
}

func (s *SimMMU) InvalidateAll() {
	s.Flushes++
	s.write("tlbi all")
}
