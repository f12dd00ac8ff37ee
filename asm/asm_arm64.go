package asm

// Barriers.

//go:noescape
func Dsb()

//go:noescape
func DsbIsh()

//go:noescape
func Isb()

// TLB maintenance, inner shareable.

//go:noescape
func InvalidateTlbAll()

// InvalidateTlbVaa drops the translations for one page in every ASID. op
// is the page number operand built by aarch64.TLBIVAOperand.
//
//go:noescape
func InvalidateTlbVaa(op uint64)

// System registers.

//go:noescape
func ReadMairEl1() uint64

//go:noescape
func WriteMairEl1(v uint64)

//go:noescape
func ReadTcrEl1() uint64

//go:noescape
func WriteTcrEl1(v uint64)

//go:noescape
func ReadTtbr0El1() uint64

//go:noescape
func WriteTtbr0El1(v uint64)

//go:noescape
func ReadTtbr1El1() uint64

//go:noescape
func WriteTtbr1El1(v uint64)

//go:noescape
func ReadSctlrEl1() uint64

//go:noescape
func WriteSctlrEl1(v uint64)

//go:noescape
func ReadIdAa64mmfr0El1() uint64

// Interrupt masking.

//go:noescape
func ReadDaif() uint64

//go:noescape
func WriteDaif(v uint64)

// DisableIrqs sets DAIF.I and returns the previous DAIF value.
//
//go:noescape
func DisableIrqs() uint64

// Device memory.

//go:noescape
func MmioRead(reg uintptr) uint32

//go:noescape
func MmioWrite(reg uintptr, data uint32)

// Delay spins for count iterations.
//
//go:noescape
func Delay(count int32)
