// Package frame is the physical frame allocator the memory manager draws
// pages and translation tables from.
//
// The allocator manages one contiguous physical region. Free space is kept
// as an address-ordered set of blocks; allocation is first fit from the
// lowest address, and freed blocks coalesce with their neighbours. Every
// frame handed out is zeroed.
package frame

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/google/btree"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Granule is the smallest unit handed out: one 64 KiB translation granule.
const Granule = 64 * 1024

// ErrExhausted is returned when no free block can hold a request.
var ErrExhausted = errors.New("frame: out of memory")

// ErrBadRequest is returned for a zero size or a non power-of-two alignment.
var ErrBadRequest = errors.New("frame: bad allocation request")

type block struct {
	addr uintptr
	size uintptr
}

func (b block) end() uintptr { return b.addr + b.size }

func blockLess(a, b block) bool { return a.addr < b.addr }

// Stats is a point-in-time view of the allocator.
type Stats struct {
	Base, End  uintptr
	InUse      uintptr // bytes handed out
	Free       uintptr // bytes available
	FreeBlocks int
	Allocs     uint64
	Frees      uint64
}

// Allocator hands out granule-aligned blocks of a physical region. The zero
// value is an empty allocator; Init gives it a region. It is safe for
// concurrent use.
type Allocator struct {
	mu     sync.Mutex
	base   uintptr
	end    uintptr
	free   *btree.BTreeG[block]
	inUse  uintptr
	allocs uint64
	frees  uint64
	log    *logrus.Entry

	// release undoes whatever produced the region (the host arena).
	release func() error
}

// NewRegion returns an allocator over [base, end). Both bounds are rounded
// inward to the granule.
func NewRegion(base, end uintptr, log *logrus.Entry) *Allocator {
	a := &Allocator{log: log}
	a.Init(base, end)
	return a
}

// Init (re)binds the allocator to the physical region [base, end),
// discarding any previous state. Boot code calls it once the usable RAM
// range is known.
func (a *Allocator) Init(base, end uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.log == nil {
		a.log = logrus.WithField("module", "frame")
	}
	a.base = alignUp(base, Granule)
	a.end = end &^ (Granule - 1)
	if a.end < a.base {
		a.end = a.base
	}
	a.free = btree.NewG[block](8, blockLess)
	a.inUse, a.allocs, a.frees = 0, 0, 0
	if a.end != a.base {
		a.free.ReplaceOrInsert(block{addr: a.base, size: a.end - a.base})
	}
	a.log.WithFields(logrus.Fields{
		"base":  fmt.Sprintf("%#x", a.base),
		"end":   fmt.Sprintf("%#x", a.end),
		"pages": (a.end - a.base) / Granule,
	}).Debug("frame allocator ready")
}

// SetLog sets the logger used by later calls.
func (a *Allocator) SetLog(log *logrus.Entry) {
	a.mu.Lock()
	a.log = log
	a.mu.Unlock()
}

// Alloc returns the address of a zeroed block of at least size bytes aligned
// to align. Sizes round up to the granule and alignments below the granule
// are raised to it.
func (a *Allocator) Alloc(size, align uintptr) (uintptr, error) {
	if size == 0 || align == 0 || align&(align-1) != 0 {
		return 0, errors.Wrapf(ErrBadRequest, "size %#x align %#x", size, align)
	}
	if align < Granule {
		align = Granule
	}
	size = alignUp(size, Granule)

	a.mu.Lock()
	if a.free == nil {
		a.mu.Unlock()
		return 0, errors.Wrap(ErrExhausted, "allocator has no region")
	}

	var (
		found bool
		from  block
		start uintptr
	)
	a.free.Ascend(func(b block) bool {
		s := alignUp(b.addr, align)
		if s >= b.addr && s+size <= b.end() && s+size > s {
			found, from, start = true, b, s
			return false
		}
		return true
	})
	if !found {
		stats := a.statsLocked()
		a.mu.Unlock()
		a.log.WithFields(logrus.Fields{
			"size":  size,
			"align": align,
			"free":  stats.Free,
		}).Warn("frame allocator exhausted")
		return 0, errors.Wrapf(ErrExhausted, "size %#x align %#x", size, align)
	}

	a.free.Delete(from)
	if start > from.addr {
		a.free.ReplaceOrInsert(block{addr: from.addr, size: start - from.addr})
	}
	if tail := from.end() - (start + size); tail > 0 {
		a.free.ReplaceOrInsert(block{addr: start + size, size: tail})
	}
	a.inUse += size
	a.allocs++
	a.mu.Unlock()

	clear(unsafe.Slice((*byte)(unsafe.Pointer(start)), size))
	return start, nil
}

// Dealloc returns a block obtained from Alloc with the same size and
// alignment. Freeing memory outside the region or memory that is already
// free corrupts the allocator and panics.
func (a *Allocator) Dealloc(addr, size, align uintptr) {
	size = alignUp(size, Granule)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.free == nil {
		panic("frame: dealloc on a closed allocator")
	}
	if addr&(Granule-1) != 0 || addr < a.base || addr+size > a.end || addr+size < addr {
		panic(fmt.Sprintf("frame: dealloc of [%#x, %#x) outside region [%#x, %#x)", addr, addr+size, a.base, a.end))
	}

	b := block{addr: addr, size: size}
	var prev, next block
	var hasPrev, hasNext bool
	a.free.DescendLessOrEqual(b, func(p block) bool {
		prev, hasPrev = p, true
		return false
	})
	a.free.AscendGreaterOrEqual(b, func(n block) bool {
		next, hasNext = n, true
		return false
	})
	if (hasPrev && prev.end() > addr) || (hasNext && next.addr < b.end()) {
		panic(fmt.Sprintf("frame: double free of [%#x, %#x)", addr, b.end()))
	}

	if hasPrev && prev.end() == b.addr {
		a.free.Delete(prev)
		b = block{addr: prev.addr, size: prev.size + b.size}
	}
	if hasNext && next.addr == b.end() {
		a.free.Delete(next)
		b.size += next.size
	}
	a.free.ReplaceOrInsert(b)
	a.inUse -= size
	a.frees++
}

// Stats reports current usage.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statsLocked()
}

func (a *Allocator) statsLocked() Stats {
	s := Stats{
		Base:   a.base,
		End:    a.end,
		InUse:  a.inUse,
		Allocs: a.allocs,
		Frees:  a.frees,
	}
	if a.free != nil {
		s.FreeBlocks = a.free.Len()
		a.free.Ascend(func(b block) bool {
			s.Free += b.size
			return true
		})
	}
	return s
}

// Close releases the backing region if the allocator owns one. Every frame
// becomes invalid.
func (a *Allocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free = nil
	if a.release == nil {
		return nil
	}
	err := a.release()
	a.release = nil
	return err
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}
