package aarch64

import "github.com/emlyons/pivm/bitfield"

// MAIR_EL1 attribute encodings, one byte per AttrIndx slot.
const (
	MairNormal       = 0xFF // Normal, inner/outer write-back non-transient, RW allocate
	MairDevice       = 0x04 // Device-nGnRE
	MairNonCacheable = 0x44 // Normal, inner/outer non-cacheable
)

// MAIR returns the MAIR_EL1 value matching the EntryAttr slots.
func MAIR() uint64 {
	return MairNormal<<(8*uint64(Mem)) |
		MairDevice<<(8*uint64(Dev)) |
		MairNonCacheable<<(8*uint64(Nc))
}

// Translation granule encodings. TG0 and TG1 use different codes for the
// same size.
const (
	TG0Granule4K  = 0b00
	TG0Granule64K = 0b01
	TG0Granule16K = 0b10

	TG1Granule16K = 0b01
	TG1Granule4K  = 0b10
	TG1Granule64K = 0b11
)

// Cacheability of table walks.
const (
	NonCacheable = 0b00
	WriteBackRWA = 0b01
	WriteThrough = 0b10
	WriteBackRA  = 0b11
)

// TCR is the TCR_EL1 translation control register.
type TCR struct {
	T0SZ  uint8  `bitfield:",6"`  // [5:0]
	Res0  uint8  `bitfield:",1"`  // [6]
	EPD0  bool   `bitfield:",1"`  // [7]
	IRGN0 uint8  `bitfield:",2"`  // [9:8]
	ORGN0 uint8  `bitfield:",2"`  // [11:10]
	SH0   uint8  `bitfield:",2"`  // [13:12]
	TG0   uint8  `bitfield:",2"`  // [15:14]
	T1SZ  uint8  `bitfield:",6"`  // [21:16]
	A1    bool   `bitfield:",1"`  // [22]
	EPD1  bool   `bitfield:",1"`  // [23]
	IRGN1 uint8  `bitfield:",2"`  // [25:24]
	ORGN1 uint8  `bitfield:",2"`  // [27:26]
	SH1   uint8  `bitfield:",2"`  // [29:28]
	TG1   uint8  `bitfield:",2"`  // [31:30]
	IPS   uint8  `bitfield:",3"`  // [34:32]
	Res0b uint8  `bitfield:",1"`  // [35]
	AS    bool   `bitfield:",1"`  // [36]
	TBI0  bool   `bitfield:",1"`  // [37]
	TBI1  bool   `bitfield:",1"`  // [38]
	Upper uint32 `bitfield:",25"` // [63:39]
}

// WindowBits is the width of both translated address ranges: 64 - TxSZ.
// 30 bits with a 64 KiB granule starts the walk at level 2.
const WindowBits = 30

// KernelMaskBits and UserMaskBits are T0SZ and T1SZ.
const (
	KernelMaskBits = 64 - WindowBits
	UserMaskBits   = 64 - WindowBits
)

// Value packs the register.
func (t TCR) Value() uint64 {
	v, err := bitfield.Pack(t, nil)
	if err != nil {
		panic(err)
	}
	return v
}

// KernelTCR returns the TCR_EL1 setting used by this kernel: TTBR0 covers
// the low 1 GiB kernel window, TTBR1 the top 1 GiB user window, both with
// 64 KiB granules and inner-shareable write-back walks. ips is the
// PARange reported by ID_AA64MMFR0_EL1.
func KernelTCR(ips uint8) TCR {
	return TCR{
		T0SZ:  KernelMaskBits,
		IRGN0: WriteBackRWA,
		ORGN0: WriteBackRWA,
		SH0:   uint8(ISh),
		TG0:   TG0Granule64K,
		T1SZ:  UserMaskBits,
		IRGN1: WriteBackRWA,
		ORGN1: WriteBackRWA,
		SH1:   uint8(ISh),
		TG1:   TG1Granule64K,
		IPS:   ips & 0b111,
	}
}

// MMFR0 is ID_AA64MMFR0_EL1, the memory model feature register.
type MMFR0 struct {
	PARange   uint8  `bitfield:",4"`  // [3:0]
	ASIDBits  uint8  `bitfield:",4"`  // [7:4]
	BigEnd    uint8  `bitfield:",4"`  // [11:8]
	SNSMem    uint8  `bitfield:",4"`  // [15:12]
	BigEndEL0 uint8  `bitfield:",4"`  // [19:16]
	TGran16   uint8  `bitfield:",4"`  // [23:20]
	TGran64   uint8  `bitfield:",4"`  // [27:24]
	TGran4    uint8  `bitfield:",4"`  // [31:28]
	Upper     uint32 `bitfield:",32"` // [63:32]
}

// ParseMMFR0 decodes a raw ID_AA64MMFR0_EL1 value.
func ParseMMFR0(v uint64) MMFR0 {
	var m MMFR0
	if err := bitfield.Unpack(v, &m, nil); err != nil {
		panic(err)
	}
	return m
}

// Supports64K reports whether the 64 KiB granule is implemented
// (TGran64 == 0b0000).
func (m MMFR0) Supports64K() bool {
	return m.TGran64 == 0
}

// SCTLR_EL1 bits touched by this kernel.
const (
	SctlrM = 1 << 0  // MMU enable
	SctlrC = 1 << 2  // data cache enable
	SctlrI = 1 << 12 // instruction cache enable
)

// tlbiVAMask covers VA[55:12], the page number field of a TLBI by-VA
// operand. Bits [63:44] of the operand are RES0 or the ASID.
const tlbiVAMask = 1<<44 - 1

// TLBIVAOperand is the register operand of TLBI VAAE1IS for the page
// holding va. The all-ASID form ignores bits [63:48], so only the page
// number is kept.
func TLBIVAOperand(va uint64) uint64 {
	return (va >> 12) & tlbiVAMask
}
