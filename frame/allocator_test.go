//go:build unix

package frame

import (
	"errors"
	"sync"
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"
)

func newArena(t *testing.T, pages uintptr) *Allocator {
	t.Helper()
	a, err := NewArena(pages*Granule, nil)
	if err != nil {
		t.Fatalf("NewArena() error = %v", err)
	}
	t.Cleanup(func() {
		if err := a.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return a
}

func TestAllocAlignedAndZeroed(t *testing.T) {
	a := newArena(t, 4)
	p, err := a.Alloc(Granule, Granule)
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}
	if p%Granule != 0 {
		t.Errorf("Alloc() = %#x, not granule aligned", p)
	}
	mem := unsafe.Slice((*byte)(unsafe.Pointer(p)), Granule)
	for i := range mem {
		mem[i] = 0xAA
	}
	a.Dealloc(p, Granule, Granule)

	q, err := a.Alloc(Granule, Granule)
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}
	if q != p {
		t.Errorf("Alloc() after free = %#x, want lowest address %#x", q, p)
	}
	mem = unsafe.Slice((*byte)(unsafe.Pointer(q)), Granule)
	for i, b := range mem {
		if b != 0 {
			t.Fatalf("byte %d = %#x, want zeroed frame", i, b)
		}
	}
}

func TestAllocFirstFitAndExhaustion(t *testing.T) {
	a := newArena(t, 3)
	base := a.Stats().Base

	var got []uintptr
	for i := 0; i < 3; i++ {
		p, err := a.Alloc(Granule, Granule)
		if err != nil {
			t.Fatalf("Alloc() #%d error = %v", i, err)
		}
		got = append(got, p)
	}
	want := []uintptr{base, base + Granule, base + 2*Granule}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("allocation order mismatch (-want +got):\n%s", diff)
	}

	if _, err := a.Alloc(Granule, Granule); !errors.Is(err, ErrExhausted) {
		t.Errorf("Alloc() on a full arena error = %v, want ErrExhausted", err)
	}
}

func TestAllocRoundsAndAligns(t *testing.T) {
	a := newArena(t, 8)
	base := a.Stats().Base

	// A sub-granule request still consumes one granule.
	p, err := a.Alloc(100, 8)
	if err != nil {
		t.Fatalf("Alloc(100, 8) error = %v", err)
	}
	if p != base {
		t.Errorf("Alloc(100, 8) = %#x, want %#x", p, base)
	}
	if got := a.Stats().InUse; got != Granule {
		t.Errorf("InUse = %#x, want %#x", got, Granule)
	}

	// A 4-granule alignment skips ahead and leaves the gap free.
	q, err := a.Alloc(Granule, 4*Granule)
	if err != nil {
		t.Fatalf("Alloc(Granule, 4*Granule) error = %v", err)
	}
	if q%(4*Granule) != 0 {
		t.Errorf("Alloc() = %#x, not aligned to %#x", q, 4*Granule)
	}
	if _, err := a.Alloc(0, Granule); !errors.Is(err, ErrBadRequest) {
		t.Errorf("Alloc(0) error = %v, want ErrBadRequest", err)
	}
	if _, err := a.Alloc(Granule, 3*Granule); !errors.Is(err, ErrBadRequest) {
		t.Errorf("Alloc(align 3 granules) error = %v, want ErrBadRequest", err)
	}
}

func TestDeallocCoalesces(t *testing.T) {
	a := newArena(t, 4)
	var ps []uintptr
	for i := 0; i < 4; i++ {
		p, err := a.Alloc(Granule, Granule)
		if err != nil {
			t.Fatalf("Alloc() error = %v", err)
		}
		ps = append(ps, p)
	}
	// Free out of order; the region must end up as a single block.
	for _, i := range []int{1, 3, 0, 2} {
		a.Dealloc(ps[i], Granule, Granule)
	}
	s := a.Stats()
	if s.FreeBlocks != 1 || s.InUse != 0 || s.Free != 4*Granule {
		t.Errorf("Stats() = %+v, want one free block of %#x bytes", s, 4*Granule)
	}
	if s.Allocs != 4 || s.Frees != 4 {
		t.Errorf("Allocs/Frees = %d/%d, want 4/4", s.Allocs, s.Frees)
	}

	// The coalesced block serves a multi-granule request.
	if _, err := a.Alloc(4*Granule, Granule); err != nil {
		t.Errorf("Alloc(4 granules) after coalescing error = %v", err)
	}
}

func TestDeallocMisuse(t *testing.T) {
	a := newArena(t, 2)
	p, err := a.Alloc(Granule, Granule)
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}
	a.Dealloc(p, Granule, Granule)

	tests := []struct {
		name string
		addr uintptr
	}{
		{"double free", p},
		{"outside region", p + 16*Granule},
		{"unaligned", p + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("Dealloc(%#x) did not panic", tt.addr)
				}
			}()
			a.Dealloc(tt.addr, Granule, Granule)
		})
	}
}

func TestConcurrentAlloc(t *testing.T) {
	const workers, each = 4, 8
	a := newArena(t, workers*each)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[uintptr]bool{}
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				p, err := a.Alloc(Granule, Granule)
				if err != nil {
					t.Errorf("Alloc() error = %v", err)
					return
				}
				mu.Lock()
				if seen[p] {
					t.Errorf("frame %#x handed out twice", p)
				}
				seen[p] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != workers*each {
		t.Errorf("got %d distinct frames, want %d", len(seen), workers*each)
	}
}

func TestZeroValueInit(t *testing.T) {
	arena := newArena(t, 2)
	s := arena.Stats()

	// A zero-value allocator refuses work until Init binds it.
	var a Allocator
	if _, err := a.Alloc(Granule, Granule); !errors.Is(err, ErrExhausted) {
		t.Errorf("Alloc() before Init error = %v, want ErrExhausted", err)
	}
	a.Init(s.Base+1, s.End)
	p, err := a.Alloc(Granule, Granule)
	if err != nil {
		t.Fatalf("Alloc() after Init error = %v", err)
	}
	if p != s.Base+Granule {
		t.Errorf("Alloc() = %#x, want base rounded up to %#x", p, s.Base+Granule)
	}
}
