//go:build unix

package vm

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/emlyons/pivm/aarch64"
)

func newTable(t *testing.T, perm aarch64.EntryPerm, base VirtualAddr) *PageTable {
	t.Helper()
	pt, err := NewPageTable(newArena(t, 8), perm, base, testLog(t))
	if err != nil {
		t.Fatalf("NewPageTable() error = %v", err)
	}
	return pt
}

func TestNewPageTableLinksL3Tables(t *testing.T) {
	pt := newTable(t, aarch64.UserRW, UserImgBase)

	if !pt.BaseAddr().IsAligned() {
		t.Errorf("BaseAddr() = %s, not page aligned", pt.BaseAddr())
	}
	for i := 0; i < NumL3Tables; i++ {
		e := pt.L2Entry(i)
		want := aarch64.TableDescriptor{
			Valid: aarch64.Valid,
			Type:  aarch64.Table,
			Attr:  aarch64.Mem,
			NS:    true,
			AP:    aarch64.UserRW,
			SH:    aarch64.ISh,
			AF:    true,
		}
		want.SetOutputAddress(uint64(pt.L3Base(i)))
		if diff := cmp.Diff(want, e.Decode()); diff != "" {
			t.Errorf("L2[%d] mismatch (-want +got):\n%s", i, diff)
		}
		if got := PhysicalAddr(e.OutputAddress()); got != pt.L3Base(i) {
			t.Errorf("L2[%d] points at %s, want %s", i, got, pt.L3Base(i))
		}
	}
	for i := NumL3Tables; i < EntriesPerTable; i++ {
		if e := pt.L2Entry(i); e != 0 {
			t.Fatalf("L2[%d] = %#x, want 0", i, uint64(e))
		}
	}
	if pt.Mapped() != 0 {
		t.Errorf("fresh table maps %d pages", pt.Mapped())
	}
}

func TestLocate(t *testing.T) {
	kern := newTable(t, aarch64.KernRW, 0)
	user := newTable(t, aarch64.UserRW, UserImgBase)

	tests := []struct {
		name string
		pt   *PageTable
		va   VirtualAddr
		want Slot
	}{
		{"kernel zero", kern, 0, Slot{0, 0}},
		{"kernel second page", kern, 0x1_0000, Slot{0, 1}},
		{"kernel last of first table", kern, 0x1fff_0000, Slot{0, 8191}},
		{"kernel mmio", kern, 0x3f00_0000, Slot{1, 0x1f00}},
		{"kernel last page", kern, 0x3fff_0000, Slot{1, 8191}},
		{"user base", user, UserImgBase, Slot{0, 0}},
		{"user second table", user, UserImgBase + 0x2000_0000, Slot{1, 0}},
		{"user top page", user, 0xffff_ffff_ffff_0000, Slot{1, 8191}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pt.Locate(tt.va); got != tt.want {
				t.Errorf("Locate(%s) = %v, want %v", tt.va, got, tt.want)
			}
		})
	}
}

func TestLocateInjective(t *testing.T) {
	for _, base := range []VirtualAddr{0, UserImgBase} {
		pt := newTable(t, aarch64.UserRW, base)
		seen := make(map[VirtualAddr]bool, NumL3Tables*EntriesPerTable)
		for l2 := 0; l2 < NumL3Tables; l2++ {
			for l3 := 0; l3 < EntriesPerTable; l3++ {
				s := Slot{L2: l2, L3: l3}
				va := s.Addr(base)
				if seen[va] {
					t.Fatalf("%v and another slot share va %s", s, va)
				}
				seen[va] = true
				if got := pt.Locate(va); got != s {
					t.Fatalf("Locate(%v.Addr()) = %v", s, got)
				}
			}
		}
	}
}

func TestLocateFatal(t *testing.T) {
	log, hook := hookedLog()
	pt, err := NewPageTable(newArena(t, 4), aarch64.KernRW, 0, log)
	if err != nil {
		t.Fatalf("NewPageTable() error = %v", err)
	}

	tests := []struct {
		name string
		va   VirtualAddr
		want error
	}{
		{"unaligned", 0x1234, ErrMisaligned},
		{"half page", PageSize / 2, ErrMisaligned},
		{"just past window", Window, ErrOutOfWindow},
		{"far past window", 0x8000_0000, ErrOutOfWindow},
		{"user half", UserImgBase, ErrOutOfWindow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook.Reset()
			mustPanic(t, tt.want, func() { pt.Locate(tt.va) })
			e := hook.LastEntry()
			if e == nil || e.Level != logrus.ErrorLevel {
				t.Errorf("fatal error was not logged at error level: %v", e)
			}
		})
	}
}

func TestSetEntry(t *testing.T) {
	pt := newTable(t, aarch64.KernRW, 0)
	va := VirtualAddr(0x20_0000)

	if !pt.IsInvalid(va) || pt.IsValid(va) {
		t.Fatal("fresh slot is valid")
	}
	e := RW.Entry(0x3000_0000)
	pt.SetEntry(va, e)
	if !pt.IsValid(va) || pt.IsInvalid(va) {
		t.Fatal("slot invalid after SetEntry")
	}
	if got := pt.Entry(va); got != e {
		t.Errorf("Entry() = %#x, want %#x", uint64(got), uint64(e))
	}

	// Neighbours stay untouched.
	for _, n := range []VirtualAddr{va - PageSize, va + PageSize} {
		if pt.IsValid(n) {
			t.Errorf("neighbour %s became valid", n)
		}
	}

	// Anything without the valid bit is stored as the zero word.
	pt.SetEntry(va, e&^1)
	if got := pt.Entry(va); got != 0 {
		t.Errorf("Entry() after invalidating = %#x, want 0", uint64(got))
	}
	if pt.IsValid(va) {
		t.Error("slot still valid")
	}
}

func TestTranslate(t *testing.T) {
	pt := newTable(t, aarch64.UserRW, UserImgBase)
	va := UserImgBase + 3*PageSize
	pt.SetEntry(va, RO.Entry(0x0123_0000))

	tests := []struct {
		va     VirtualAddr
		want   PhysicalAddr
		wantOK bool
	}{
		{va, 0x0123_0000, true},
		{va + 0x1234, 0x0123_1234, true},
		{va + PageSize - 1, 0x0123_ffff, true},
		{va + PageSize, 0, false},
		{UserImgBase, 0, false},
		{0x1000, 0, false},
	}
	for _, tt := range tests {
		got, ok := pt.Translate(tt.va)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Translate(%s) = %s, %v, want %s, %v", tt.va, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestAllAscending(t *testing.T) {
	pt := newTable(t, aarch64.KernRW, 0)
	vas := []VirtualAddr{0x3fff_0000, 0, 0x2000_0000, 0x1fff_0000, 0x5_0000}
	for i, va := range vas {
		pt.SetEntry(va, RW.Entry(PhysicalAddr(i+1)<<PageAlign))
	}

	var got []VirtualAddr
	for va := range pt.All() {
		got = append(got, va)
	}
	want := []VirtualAddr{0, 0x5_0000, 0x1fff_0000, 0x2000_0000, 0x3fff_0000}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("All() order mismatch (-want +got):\n%s", diff)
	}
	if pt.Mapped() != len(vas) {
		t.Errorf("Mapped() = %d, want %d", pt.Mapped(), len(vas))
	}
}

func TestNewPageTableErrors(t *testing.T) {
	if _, err := NewPageTable(newArena(t, 4), aarch64.KernRW, 0x1000_0000, testLog(t)); !errors.Is(err, ErrMisaligned) {
		t.Errorf("NewPageTable(base inside window) error = %v, want ErrMisaligned", err)
	}

	// Room for the L2 and one L3 table only.
	a := newArena(t, 2)
	if _, err := NewPageTable(a, aarch64.KernRW, 0, testLog(t)); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("NewPageTable() error = %v, want ErrOutOfMemory", err)
	}
	if s := a.Stats(); s.InUse != 0 {
		t.Errorf("failed NewPageTable leaked %#x bytes", s.InUse)
	}
}

func TestReleaseReturnsTables(t *testing.T) {
	a := newArena(t, 4)
	pt, err := NewPageTable(a, aarch64.KernRW, 0, testLog(t))
	if err != nil {
		t.Fatalf("NewPageTable() error = %v", err)
	}
	if got := a.Stats().InUse; got != (1+NumL3Tables)*PageSize {
		t.Errorf("InUse = %#x, want %#x", got, (1+NumL3Tables)*PageSize)
	}
	pt.release()
	if got := a.Stats().InUse; got != 0 {
		t.Errorf("InUse after release = %#x, want 0", got)
	}
	if got := pt.String(); got != "pagetable{base=0x0 released}" {
		t.Errorf("String() = %q", got)
	}
	mustPanic(t, ErrReleased, func() { pt.IsValid(0) })
}
