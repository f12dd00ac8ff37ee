package vm

import (
	"iter"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/emlyons/pivm/aarch64"
)

// UserAddressSpace is the translation table of one process. It starts empty
// and grows one page at a time through Alloc.
type UserAddressSpace struct {
	pt    *PageTable
	alloc FrameAllocator
	log   *logrus.Entry

	// tlb is set while this space is loaded in TTBR1, so that new
	// mappings are flushed from the TLB.
	tlb MMU
}

// NewUserAddressSpace allocates an empty user page table at UserImgBase.
func NewUserAddressSpace(alloc FrameAllocator, log *logrus.Entry) (*UserAddressSpace, error) {
	log = moduleLog(log)
	pt, err := NewPageTable(alloc, aarch64.UserRW, UserImgBase, log)
	if err != nil {
		return nil, err
	}
	return &UserAddressSpace{pt: pt, alloc: alloc, log: log}, nil
}

// Alloc maps a fresh zeroed page at va with perm and returns its contents.
// Any failure is fatal; see TryAlloc for the error-returning form.
func (u *UserAddressSpace) Alloc(va VirtualAddr, perm PagePerm) []byte {
	b, err := u.TryAlloc(va, perm)
	if err != nil {
		fatal(u.log, err)
	}
	return b
}

// TryAlloc maps a fresh zeroed page at va with perm. It fails with
// ErrBelowUserBase, ErrMisaligned, ErrAlreadyMapped or ErrOutOfMemory, in
// that order of checking, and leaves the table untouched when it does.
func (u *UserAddressSpace) TryAlloc(va VirtualAddr, perm PagePerm) ([]byte, error) {
	if u.pt.closed {
		return nil, ErrReleased
	}
	if va < UserImgBase {
		return nil, errors.Wrapf(ErrBelowUserBase, "va %s", va)
	}
	s, err := u.pt.locate(va)
	if err != nil {
		return nil, err
	}
	if u.pt.slot(s).Valid() {
		return nil, errors.Wrapf(ErrAlreadyMapped, "va %s", va)
	}
	pa, err := allocPage(u.alloc)
	if err != nil {
		return nil, errors.Wrapf(ErrOutOfMemory, "page for va %s: %v", va, err)
	}
	u.pt.setSlot(s, perm.Entry(pa))
	if u.tlb != nil {
		u.tlb.InvalidatePage(va)
	}
	u.log.WithFields(logrus.Fields{
		"va":   va,
		"pa":   pa,
		"perm": perm,
	}).Trace("user page mapped")
	return unsafe.Slice((*byte)(pa.Pointer()), PageSize), nil
}

// Release frees every mapped page and then the tables themselves; every
// later call on the space is fatal. Releasing the space loaded by the last
// Manager.Switch is fatal (ErrInUse): unload it with Manager.Release.
func (u *UserAddressSpace) Release() {
	if u.pt.closed {
		fatal(u.log, ErrReleased)
	}
	if u.tlb != nil {
		fatal(u.log, errors.Wrapf(ErrInUse, "l2 %s", u.pt.BaseAddr()))
	}
	n := 0
	for _, e := range u.pt.All() {
		freePage(u.alloc, PhysicalAddr(e.OutputAddress()))
		n++
	}
	base := u.pt.BaseAddr()
	u.pt.release()
	u.log.WithFields(logrus.Fields{"l2": base, "pages": n}).Debug("user address space released")
}

// Pages counts the mapped pages.
func (u *UserAddressSpace) Pages() int { return u.pt.Mapped() }

// Translate resolves any user va to its physical address.
func (u *UserAddressSpace) Translate(va VirtualAddr) (PhysicalAddr, bool) {
	return u.pt.Translate(va)
}

// BaseAddr is the physical address of the L2 table, loaded into TTBR1 when
// the process runs.
func (u *UserAddressSpace) BaseAddr() PhysicalAddr {
	if u.pt.closed {
		fatal(u.log, ErrReleased)
	}
	return u.pt.BaseAddr()
}

func (u *UserAddressSpace) Locate(va VirtualAddr) Slot              { return u.pt.Locate(va) }
func (u *UserAddressSpace) IsValid(va VirtualAddr) bool             { return u.pt.IsValid(va) }
func (u *UserAddressSpace) IsInvalid(va VirtualAddr) bool           { return u.pt.IsInvalid(va) }
func (u *UserAddressSpace) Entry(va VirtualAddr) aarch64.RawL3Entry { return u.pt.Entry(va) }
func (u *UserAddressSpace) L2Entry(i int) aarch64.RawL2Entry        { return u.pt.L2Entry(i) }
func (u *UserAddressSpace) String() string                          { return "user " + u.pt.String() }

// All yields every mapped page in address order.
func (u *UserAddressSpace) All() iter.Seq2[VirtualAddr, aarch64.RawL3Entry] {
	return u.pt.All()
}
