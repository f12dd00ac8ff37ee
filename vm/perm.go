package vm

import (
	"fmt"

	"github.com/emlyons/pivm/aarch64"
)

// PagePerm is the access a process asks for when it maps a page.
type PagePerm uint8

const (
	// RW is user read/write, never executable.
	RW PagePerm = iota
	// RO is user read-only, never executable.
	RO
	// RWX is user read/write/execute.
	RWX
)

func (p PagePerm) String() string {
	switch p {
	case RW:
		return "RW"
	case RO:
		return "RO"
	case RWX:
		return "RWX"
	}
	return fmt.Sprintf("PagePerm(%d)", uint8(p))
}

// descriptor returns the L3 page descriptor for a user page at pa. The
// kernel never executes user memory, so PXN is set for every permission.
func (p PagePerm) descriptor(pa PhysicalAddr) aarch64.PageDescriptor {
	d := aarch64.PageDescriptor{
		Valid: aarch64.Valid,
		Type:  aarch64.Page,
		Attr:  aarch64.Mem,
		SH:    aarch64.ISh,
		AF:    true,
		PXN:   true,
	}
	switch p {
	case RW:
		d.AP, d.UXN = aarch64.UserRW, true
	case RO:
		d.AP, d.UXN = aarch64.UserRO, true
	case RWX:
		d.AP = aarch64.UserRW
	default:
		panic(fmt.Sprintf("vm: unknown page permission %d", uint8(p)))
	}
	d.SetOutputAddress(uint64(pa))
	return d
}

// Entry encodes the page descriptor a user page at pa is installed with.
func (p PagePerm) Entry(pa PhysicalAddr) aarch64.RawL3Entry {
	return p.descriptor(pa).MustEncode()
}

// KernelEntry is the identity-map descriptor for normal RAM or, with
// device set, for MMIO.
func KernelEntry(pa PhysicalAddr, device bool) aarch64.RawL3Entry {
	d := aarch64.PageDescriptor{
		Valid: aarch64.Valid,
		Type:  aarch64.Page,
		Attr:  aarch64.Mem,
		AP:    aarch64.KernRW,
		SH:    aarch64.ISh,
		AF:    true,
	}
	if device {
		d.Attr, d.SH = aarch64.Dev, aarch64.OSh
	}
	d.SetOutputAddress(uint64(pa))
	return d.MustEncode()
}
