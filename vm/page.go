package vm

import (
	"unsafe"

	"github.com/emlyons/pivm/aarch64"
)

const (
	// PageAlign is log2 of the translation granule.
	PageAlign = 16
	// PageSize is the translation granule, 64 KiB.
	PageSize = 1 << PageAlign

	// EntriesPerTable is the number of 8-byte descriptors in one
	// granule-sized table.
	EntriesPerTable = PageSize / 8
	// NumL3Tables is the number of L3 tables hung off each L2 table.
	NumL3Tables = 2

	// Window is the span covered by one page table: 1 GiB.
	Window = NumL3Tables * EntriesPerTable * PageSize

	l3Shift = PageAlign
	l2Shift = PageAlign + 13
	idxMask = EntriesPerTable - 1
)

// UserImgBase is the first virtual address of every user address space;
// user windows sit in the TTBR1 half at the top of the address space.
const UserImgBase VirtualAddr = 0xffff_ffff_c000_0000

// Page is one granule of memory.
type Page [PageSize]byte

// pageAt views the frame at pa as a Page.
func pageAt(pa PhysicalAddr) *Page {
	return (*Page)(pa.Pointer())
}

// L2Table is a level 2 translation table. Only the first NumL3Tables
// entries are ever valid.
type L2Table struct {
	Entries [EntriesPerTable]aarch64.RawL2Entry
}

// L3Table is a level 3 translation table of page descriptors.
type L3Table struct {
	Entries [EntriesPerTable]aarch64.RawL3Entry
}

var (
	_ [PageSize - unsafe.Sizeof(L2Table{})]struct{}
	_ [unsafe.Sizeof(L2Table{}) - PageSize]struct{}
	_ [PageSize - unsafe.Sizeof(L3Table{})]struct{}
	_ [unsafe.Sizeof(L3Table{}) - PageSize]struct{}
)
