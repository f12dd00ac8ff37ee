// Package vm is the virtual memory core: page tables, the kernel identity
// map, per-process user address spaces and the memory manager that turns
// the MMU on.
//
// Translation uses a 64 KiB granule with a 30-bit window, so a walk starts
// at level 2. Every page table is one L2 table whose first NumL3Tables
// entries point at L3 tables of page descriptors:
//
//	 63      30   29    28        16 15          0
//	+----------+--------+------------+-------------+
//	|  window  | L2 idx |   L3 idx   | page offset |
//	+----------+--------+------------+-------------+
//
// The kernel window is the low 1 GiB through TTBR0, identity mapped. A user
// window is the top 1 GiB through TTBR1, starting at UserImgBase.
package vm

import (
	"fmt"
	"iter"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/emlyons/pivm/aarch64"
)

// Slot is the position of a page descriptor: the L2 entry naming the L3
// table and the index inside that table.
type Slot struct {
	L2 int
	L3 int
}

// Addr recombines the slot into the virtual address it translates in a
// window starting at base.
func (s Slot) Addr(base VirtualAddr) VirtualAddr {
	return base + VirtualAddr(s.L2)<<l2Shift + VirtualAddr(s.L3)<<l3Shift
}

func (s Slot) String() string { return fmt.Sprintf("L2[%d] L3[%d]", s.L2, s.L3) }

// PageTable is one L2 table and its L3 tables, all allocated from a
// FrameAllocator.
type PageTable struct {
	alloc FrameAllocator
	log   *logrus.Entry
	base  VirtualAddr
	perm  aarch64.EntryPerm

	l2     PhysicalAddr
	l3     [NumL3Tables]PhysicalAddr
	closed bool
}

// NewPageTable allocates and links a page table covering [base, base+Window).
// The L2 entries record perm as the table-level permission. On failure any
// table already allocated is returned to alloc.
func NewPageTable(alloc FrameAllocator, perm aarch64.EntryPerm, base VirtualAddr, log *logrus.Entry) (*PageTable, error) {
	if !base.IsAligned() || uint64(base)%Window != 0 {
		return nil, errors.Wrapf(ErrMisaligned, "window base %s", base)
	}
	pt := &PageTable{alloc: alloc, log: moduleLog(log), base: base, perm: perm}

	var err error
	if pt.l2, err = allocPage(alloc); err != nil {
		return nil, errors.Wrapf(ErrOutOfMemory, "L2 table: %v", err)
	}
	for i := range pt.l3 {
		if pt.l3[i], err = allocPage(alloc); err != nil {
			pt.release()
			return nil, errors.Wrapf(ErrOutOfMemory, "L3 table %d: %v", i, err)
		}
		d := aarch64.TableDescriptor{
			Valid: aarch64.Valid,
			Type:  aarch64.Table,
			Attr:  aarch64.Mem,
			NS:    true,
			AP:    perm,
			SH:    aarch64.ISh,
			AF:    true,
		}
		d.SetOutputAddress(uint64(pt.l3[i]))
		pt.l2Table().Entries[i] = d.MustEncode()
	}
	pt.log.WithFields(logrus.Fields{
		"base": base,
		"l2":   pt.l2,
		"perm": perm,
	}).Debug("page table created")
	return pt, nil
}

func (pt *PageTable) l2Table() *L2Table {
	return (*L2Table)(pt.l2.Pointer())
}

func (pt *PageTable) l3Table(i int) *L3Table {
	return (*L3Table)(pt.l3[i].Pointer())
}

// SlotOf decomposes va for a window starting at base. It needs no table;
// an unaligned va or one outside the window is an error.
func SlotOf(base, va VirtualAddr) (Slot, error) {
	if !va.IsAligned() {
		return Slot{}, errors.Wrapf(ErrMisaligned, "va %s", va)
	}
	if va < base || uint64(va-base) >= Window {
		return Slot{}, errors.Wrapf(ErrOutOfWindow, "va %s, window base %s", va, base)
	}
	off := uint64(va - base)
	return Slot{
		L2: int(off>>l2Shift) & idxMask,
		L3: int(off>>l3Shift) & idxMask,
	}, nil
}

// locate is Locate without the fatal policy.
func (pt *PageTable) locate(va VirtualAddr) (Slot, error) {
	if pt.closed {
		return Slot{}, ErrReleased
	}
	return SlotOf(pt.base, va)
}

// Locate returns the slot translating va. An unaligned va or one outside
// the window is fatal.
func (pt *PageTable) Locate(va VirtualAddr) Slot {
	s, err := pt.locate(va)
	if err != nil {
		fatal(pt.log, err)
	}
	return s
}

func (pt *PageTable) slot(s Slot) *aarch64.RawL3Entry {
	return &pt.l3Table(s.L2).Entries[s.L3]
}

// Entry returns the descriptor installed for va.
func (pt *PageTable) Entry(va VirtualAddr) aarch64.RawL3Entry {
	return *pt.slot(pt.Locate(va))
}

// IsValid reports whether va has a valid page descriptor.
func (pt *PageTable) IsValid(va VirtualAddr) bool {
	return pt.Entry(va).Valid()
}

// IsInvalid is the complement of IsValid.
func (pt *PageTable) IsInvalid(va VirtualAddr) bool {
	return !pt.IsValid(va)
}

// SetEntry installs e for va, overwriting whatever was there. An entry
// without the valid bit is stored as zero.
func (pt *PageTable) SetEntry(va VirtualAddr, e aarch64.RawL3Entry) {
	pt.setSlot(pt.Locate(va), e)
}

func (pt *PageTable) setSlot(s Slot, e aarch64.RawL3Entry) {
	if !e.Valid() {
		e = 0
	}
	*pt.slot(s) = e
}

// BaseAddr returns the physical address of the L2 table, the value loaded
// into a TTBR.
func (pt *PageTable) BaseAddr() PhysicalAddr {
	return pt.l2
}

// Base returns the first virtual address of the window.
func (pt *PageTable) Base() VirtualAddr {
	return pt.base
}

// Translate walks the table for any va, aligned or not. ok is false when
// va is outside the window or not mapped.
func (pt *PageTable) Translate(va VirtualAddr) (pa PhysicalAddr, ok bool) {
	s, err := pt.locate(va.AlignDown())
	if err != nil {
		return 0, false
	}
	e := *pt.slot(s)
	if !e.Valid() {
		return 0, false
	}
	return PhysicalAddr(e.OutputAddress()).Add(va.PageOffset()), true
}

// All yields every valid descriptor in ascending virtual address order.
func (pt *PageTable) All() iter.Seq2[VirtualAddr, aarch64.RawL3Entry] {
	return func(yield func(VirtualAddr, aarch64.RawL3Entry) bool) {
		if pt.closed {
			return
		}
		for i := range pt.l3 {
			t := pt.l3Table(i)
			for j, e := range t.Entries {
				if !e.Valid() {
					continue
				}
				if !yield(Slot{L2: i, L3: j}.Addr(pt.base), e) {
					return
				}
			}
		}
	}
}

// L2Entry returns entry i of the L2 table.
func (pt *PageTable) L2Entry(i int) aarch64.RawL2Entry {
	return pt.l2Table().Entries[i]
}

// L3Base returns the physical address of L3 table i.
func (pt *PageTable) L3Base(i int) PhysicalAddr {
	return pt.l3[i]
}

// Mapped counts the valid page descriptors.
func (pt *PageTable) Mapped() int {
	n := 0
	for range pt.All() {
		n++
	}
	return n
}

func (pt *PageTable) String() string {
	if pt.closed {
		return fmt.Sprintf("pagetable{base=%s released}", pt.base)
	}
	return fmt.Sprintf("pagetable{base=%s l2=%s perm=%s mapped=%d}", pt.base, pt.l2, pt.perm, pt.Mapped())
}

// release returns the tables to the allocator. Pages the table maps are the
// owner's business.
func (pt *PageTable) release() {
	if pt.closed {
		return
	}
	for i, l3 := range pt.l3 {
		if l3 != 0 {
			freePage(pt.alloc, l3)
			pt.l3[i] = 0
		}
	}
	if pt.l2 != 0 {
		freePage(pt.alloc, pt.l2)
		pt.l2 = 0
	}
	pt.closed = true
}
