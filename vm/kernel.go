package vm

import (
	"fmt"
	"iter"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/emlyons/pivm/aarch64"
)

// Range is a half-open physical address range [Start, End).
type Range struct {
	Start PhysicalAddr
	End   PhysicalAddr
}

func (r Range) Size() uint64                  { return uint64(r.End - r.Start) }
func (r Range) Pages() int                    { return int(r.Size() / PageSize) }
func (r Range) Empty() bool                   { return r.End <= r.Start }
func (r Range) Overlaps(o Range) bool         { return r.Start < o.End && o.Start < r.End }
func (r Range) String() string                { return fmt.Sprintf("[%s, %s)", r.Start, r.End) }
func (r Range) Contains(pa PhysicalAddr) bool { return pa >= r.Start && pa < r.End }

// Layout is the physical memory map the kernel identity maps.
type Layout struct {
	// RAM is normal memory.
	RAM Range
	// IO is the peripheral window, mapped as device memory.
	IO Range
}

// DefaultLayout is the Raspberry Pi 3 map: RAM below the GPU split and the
// BCM2837 peripherals at 0x3f000000.
func DefaultLayout() Layout {
	return Layout{
		RAM: Range{Start: 0, End: 0x3c00_0000},
		IO:  Range{Start: 0x3f00_0000, End: 0x4000_0000},
	}
}

// Validate checks that both ranges are page aligned, lie inside the kernel
// window and do not overlap.
func (l Layout) Validate() error {
	for _, r := range []struct {
		name string
		r    Range
	}{{"ram", l.RAM}, {"io", l.IO}} {
		if r.r.End < r.r.Start {
			return errors.Wrapf(ErrBadLayout, "%s range %s is inverted", r.name, r.r)
		}
		if !r.r.Start.IsAligned() || !r.r.End.IsAligned() {
			return errors.Wrapf(ErrBadLayout, "%s range %s is not page aligned", r.name, r.r)
		}
		if uint64(r.r.End) > Window {
			return errors.Wrapf(ErrBadLayout, "%s range %s extends past the %#x byte window", r.name, r.r, uint64(Window))
		}
	}
	if l.RAM.Overlaps(l.IO) {
		return errors.Wrapf(ErrBadLayout, "ram %s overlaps io %s", l.RAM, l.IO)
	}
	return nil
}

// KernelAddressSpace identity maps RAM and MMIO in the low window. It is
// built once and never modified.
type KernelAddressSpace struct {
	pt     *PageTable
	layout Layout
}

// NewKernelAddressSpace builds the kernel identity map for layout. RAM pages
// are kernel read/write normal inner-shareable memory; IO pages are kernel
// read/write device outer-shareable memory.
func NewKernelAddressSpace(alloc FrameAllocator, layout Layout, log *logrus.Entry) (*KernelAddressSpace, error) {
	log = moduleLog(log)
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	pt, err := NewPageTable(alloc, aarch64.KernRW, 0, log)
	if err != nil {
		return nil, err
	}
	for pa := layout.RAM.Start; pa < layout.RAM.End; pa += PageSize {
		pt.SetEntry(VirtualAddr(pa), KernelEntry(pa, false))
	}
	for pa := layout.IO.Start; pa < layout.IO.End; pa += PageSize {
		pt.SetEntry(VirtualAddr(pa), KernelEntry(pa, true))
	}
	log.WithFields(logrus.Fields{
		"ram":   layout.RAM,
		"io":    layout.IO,
		"l2":    pt.BaseAddr(),
		"pages": layout.RAM.Pages() + layout.IO.Pages(),
	}).Info("kernel address space built")
	return &KernelAddressSpace{pt: pt, layout: layout}, nil
}

func (k *KernelAddressSpace) Layout() Layout                          { return k.layout }
func (k *KernelAddressSpace) BaseAddr() PhysicalAddr                  { return k.pt.BaseAddr() }
func (k *KernelAddressSpace) Locate(va VirtualAddr) Slot              { return k.pt.Locate(va) }
func (k *KernelAddressSpace) IsValid(va VirtualAddr) bool             { return k.pt.IsValid(va) }
func (k *KernelAddressSpace) IsInvalid(va VirtualAddr) bool           { return k.pt.IsInvalid(va) }
func (k *KernelAddressSpace) Entry(va VirtualAddr) aarch64.RawL3Entry { return k.pt.Entry(va) }
func (k *KernelAddressSpace) L2Entry(i int) aarch64.RawL2Entry        { return k.pt.L2Entry(i) }
func (k *KernelAddressSpace) Mapped() int                             { return k.pt.Mapped() }
func (k *KernelAddressSpace) String() string                          { return "kernel " + k.pt.String() }

// Translate resolves va through the identity map.
func (k *KernelAddressSpace) Translate(va VirtualAddr) (PhysicalAddr, bool) {
	return k.pt.Translate(va)
}

// All yields every mapped page in address order.
func (k *KernelAddressSpace) All() iter.Seq2[VirtualAddr, aarch64.RawL3Entry] {
	return k.pt.All()
}
