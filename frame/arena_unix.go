//go:build unix

package frame

import (
	"unsafe"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// NewArena maps size bytes of anonymous host memory and returns an allocator
// over it. Addresses it hands out are real host addresses, so code that
// dereferences "physical" addresses runs unchanged on a hosted system where
// the arena stands in for RAM. Close unmaps the arena.
func NewArena(size uintptr, log *logrus.Entry) (*Allocator, error) {
	size = alignUp(size, Granule)
	if size == 0 {
		return nil, errors.Wrap(ErrBadRequest, "empty arena")
	}
	// mmap only guarantees host page alignment; over-allocate one granule
	// and trim.
	mem, err := unix.Mmap(-1, 0, int(size+Granule), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap arena of %#x bytes", size)
	}
	start := alignUp(uintptr(unsafe.Pointer(&mem[0])), Granule)
	a := NewRegion(start, start+size, log)
	a.release = func() error { return unix.Munmap(mem) }
	return a, nil
}
