package vm

import (
	"fmt"
	"unsafe"
)

// VirtualAddr is an address in a translated address space.
type VirtualAddr uint64

// PhysicalAddr is an address on the bus. The two kinds never convert into
// each other implicitly; only a page table can turn one into the other.
type PhysicalAddr uint64

// VA builds a virtual address.
func VA(v uint64) VirtualAddr { return VirtualAddr(v) }

// PA builds a physical address.
func PA(v uint64) PhysicalAddr { return PhysicalAddr(v) }

// Add offsets a by n bytes.
func (a VirtualAddr) Add(n uint64) VirtualAddr { return a + VirtualAddr(n) }

// AlignDown rounds down to the start of the page holding a.
func (a VirtualAddr) AlignDown() VirtualAddr { return a &^ (PageSize - 1) }

// AlignUp rounds up to the next page boundary. It wraps to zero past the
// last page of the address space.
func (a VirtualAddr) AlignUp() VirtualAddr { return (a + PageSize - 1) &^ (PageSize - 1) }

// IsAligned reports whether a starts a page.
func (a VirtualAddr) IsAligned() bool { return a&(PageSize-1) == 0 }

// PageOffset is the byte offset of a within its page.
func (a VirtualAddr) PageOffset() uint64 { return uint64(a & (PageSize - 1)) }

// Uint64 returns the raw address.
func (a VirtualAddr) Uint64() uint64 { return uint64(a) }

func (a VirtualAddr) String() string { return fmt.Sprintf("%#x", uint64(a)) }

// The PhysicalAddr methods behave like their VirtualAddr counterparts.

func (a PhysicalAddr) Add(n uint64) PhysicalAddr { return a + PhysicalAddr(n) }
func (a PhysicalAddr) AlignDown() PhysicalAddr   { return a &^ (PageSize - 1) }
func (a PhysicalAddr) AlignUp() PhysicalAddr     { return (a + PageSize - 1) &^ (PageSize - 1) }
func (a PhysicalAddr) IsAligned() bool           { return a&(PageSize-1) == 0 }
func (a PhysicalAddr) PageOffset() uint64        { return uint64(a & (PageSize - 1)) }
func (a PhysicalAddr) Uint64() uint64            { return uint64(a) }
func (a PhysicalAddr) String() string            { return fmt.Sprintf("%#x", uint64(a)) }

// Pointer returns the physical address as a pointer. Physical memory is
// identity mapped in the kernel window (and is host memory in an arena), so
// this is how frame contents are read and written.
func (a PhysicalAddr) Pointer() unsafe.Pointer {
	return unsafe.Pointer(uintptr(a))
}
