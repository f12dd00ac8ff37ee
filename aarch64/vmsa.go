// Package aarch64 holds the ARMv8-A VMSA translation-table descriptor
// formats and the MMU control-register encodings for a 64 KiB granule.
//
// Every layout in this package is read directly by the table walker, so the
// field order and widths follow the architecture reference manual (D5.3)
// bit for bit.
package aarch64

import (
	"fmt"

	"github.com/emlyons/pivm/bitfield"
)

// EntryValid is the descriptor bit 0.
type EntryValid uint8

const (
	Invalid EntryValid = 0
	Valid   EntryValid = 1
)

// EntryType is descriptor bit 1. At L2 it selects Block vs Table; at L3 a
// page descriptor must carry 1 (bits[1:0] = 0b11), 0 is reserved.
type EntryType uint8

const (
	Block EntryType = 0
	Table EntryType = 1
	Page  EntryType = 1
)

// EntryAttr is the AttrIndx field, an index into MAIR_EL1.
type EntryAttr uint8

const (
	// Mem is normal, inner/outer write-back cacheable memory.
	Mem EntryAttr = 0
	// Dev is device nGnRE memory, used for MMIO.
	Dev EntryAttr = 1
	// Nc is normal non-cacheable memory.
	Nc EntryAttr = 2
)

// EntrySh is the shareability domain.
type EntrySh uint8

const (
	NSh EntrySh = 0b00
	OSh EntrySh = 0b10
	ISh EntrySh = 0b11
)

// EntryPerm is the AP[2:1] data access permission field.
type EntryPerm uint8

const (
	KernRW EntryPerm = 0b00 // EL1 read/write, EL0 none
	UserRW EntryPerm = 0b01 // EL1 and EL0 read/write
	KernRO EntryPerm = 0b10 // EL1 read-only, EL0 none
	UserRO EntryPerm = 0b11 // EL1 and EL0 read-only
)

func (p EntryPerm) String() string {
	switch p {
	case KernRW:
		return "KERN_RW"
	case UserRW:
		return "USER_RW"
	case KernRO:
		return "KERN_RO"
	case UserRO:
		return "USER_RO"
	}
	return fmt.Sprintf("EntryPerm(%d)", uint8(p))
}

// PageDescriptor is a level 3 page descriptor for the 64 KiB granule.
type PageDescriptor struct {
	Valid      EntryValid `bitfield:",1"`  // [0]
	Type       EntryType  `bitfield:",1"`  // [1]
	Attr       EntryAttr  `bitfield:",3"`  // [4:2]
	NS         bool       `bitfield:",1"`  // [5]
	AP         EntryPerm  `bitfield:",2"`  // [7:6]
	SH         EntrySh    `bitfield:",2"`  // [9:8]
	AF         bool       `bitfield:",1"`  // [10]
	NG         bool       `bitfield:",1"`  // [11]
	Res0       uint8      `bitfield:",4"`  // [15:12]
	Addr       uint32     `bitfield:",32"` // [47:16] output address >> 16
	Res0Hi     uint8      `bitfield:",4"`  // [51:48]
	Contiguous bool       `bitfield:",1"`  // [52]
	PXN        bool       `bitfield:",1"`  // [53]
	UXN        bool       `bitfield:",1"`  // [54]
	Software   uint8      `bitfield:",4"`  // [58:55]
	Ignored    uint8      `bitfield:",5"`  // [63:59]
}

// TableDescriptor is a level 2 descriptor pointing at an L3 table. The low
// attribute bits are ignored by the walker for table descriptors; they are
// still written so that the table-level permission is recorded next to the
// pointer.
type TableDescriptor struct {
	Valid    EntryValid `bitfield:",1"`  // [0]
	Type     EntryType  `bitfield:",1"`  // [1]
	Attr     EntryAttr  `bitfield:",3"`  // [4:2]
	NS       bool       `bitfield:",1"`  // [5]
	AP       EntryPerm  `bitfield:",2"`  // [7:6]
	SH       EntrySh    `bitfield:",2"`  // [9:8]
	AF       bool       `bitfield:",1"`  // [10]
	Ignored0 uint8      `bitfield:",1"`  // [11]
	Res0     uint8      `bitfield:",4"`  // [15:12]
	Addr     uint32     `bitfield:",32"` // [47:16] next-level table address >> 16
	Res0Hi   uint8      `bitfield:",4"`  // [51:48]
	Ignored1 uint8      `bitfield:",7"`  // [58:52]
	PXNTable bool       `bitfield:",1"`  // [59]
	UXNTable bool       `bitfield:",1"`  // [60]
	APTable  uint8      `bitfield:",2"`  // [62:61]
	NSTable  bool       `bitfield:",1"`  // [63]
}

// AddrShift is the position of the output address field: descriptors carry
// a 64 KiB aligned address.
const AddrShift = 16

// RawL3Entry is an encoded level 3 descriptor as stored in an L3 table.
type RawL3Entry uint64

// RawL2Entry is an encoded level 2 descriptor as stored in an L2 table.
type RawL2Entry uint64

var (
	l3Layout = mustLayout(PageDescriptor{})
	l2Layout = mustLayout(TableDescriptor{})

	l3Valid = mustField(l3Layout, "Valid")
	l3Type  = mustField(l3Layout, "Type")
	l3Attr  = mustField(l3Layout, "Attr")
	l3AP    = mustField(l3Layout, "AP")
	l3SH    = mustField(l3Layout, "SH")
	l3AF    = mustField(l3Layout, "AF")
	l3Addr  = mustField(l3Layout, "Addr")
	l3PXN   = mustField(l3Layout, "PXN")
	l3UXN   = mustField(l3Layout, "UXN")

	l2Valid = mustField(l2Layout, "Valid")
	l2Type  = mustField(l2Layout, "Type")
	l2AP    = mustField(l2Layout, "AP")
	l2Addr  = mustField(l2Layout, "Addr")
)

func mustLayout(x interface{}) []bitfield.Field {
	fields, err := bitfield.Layout(x)
	if err != nil {
		panic(err)
	}
	return fields
}

func mustField(fields []bitfield.Field, name string) bitfield.Field {
	f, ok := bitfield.Lookup(fields, name)
	if !ok {
		panic("aarch64: no descriptor field " + name)
	}
	return f
}

// Encode packs the descriptor. The only failure is a field value wider than
// its bit range.
func (d PageDescriptor) Encode() (RawL3Entry, error) {
	v, err := bitfield.Pack(d, nil)
	return RawL3Entry(v), err
}

// MustEncode is Encode for descriptors built from constants.
func (d PageDescriptor) MustEncode() RawL3Entry {
	e, err := d.Encode()
	if err != nil {
		panic(err)
	}
	return e
}

// SetOutputAddress stores a 64 KiB aligned physical address.
func (d *PageDescriptor) SetOutputAddress(pa uint64) {
	d.Addr = uint32(pa >> AddrShift)
}

// Decode unpacks the raw entry into its fields.
func (e RawL3Entry) Decode() PageDescriptor {
	var d PageDescriptor
	if err := bitfield.Unpack(uint64(e), &d, nil); err != nil {
		// Every field type is at least as wide as its bit range.
		panic(err)
	}
	return d
}

func (e RawL3Entry) Valid() bool { return l3Valid.Get(uint64(e)) == uint64(Valid) }

// IsPage reports whether bits[1:0] form a level 3 page descriptor.
func (e RawL3Entry) IsPage() bool { return e.Valid() && l3Type.Get(uint64(e)) == uint64(Page) }

func (e RawL3Entry) Attr() EntryAttr { return EntryAttr(l3Attr.Get(uint64(e))) }
func (e RawL3Entry) AP() EntryPerm   { return EntryPerm(l3AP.Get(uint64(e))) }
func (e RawL3Entry) SH() EntrySh     { return EntrySh(l3SH.Get(uint64(e))) }
func (e RawL3Entry) AF() bool        { return l3AF.Get(uint64(e)) != 0 }
func (e RawL3Entry) PXN() bool       { return l3PXN.Get(uint64(e)) != 0 }
func (e RawL3Entry) UXN() bool       { return l3UXN.Get(uint64(e)) != 0 }

// OutputAddress returns the physical frame address held in bits [47:16].
func (e RawL3Entry) OutputAddress() uint64 {
	return l3Addr.Get(uint64(e)) << AddrShift
}

func (e RawL3Entry) String() string {
	if !e.Valid() {
		return "invalid"
	}
	x := "x"
	if e.UXN() {
		x = "-"
	}
	return fmt.Sprintf("pa=%#x %s attr=%d sh=%d af=%v %s", e.OutputAddress(), e.AP(), e.Attr(), e.SH(), e.AF(), x)
}

// Encode packs the descriptor.
func (d TableDescriptor) Encode() (RawL2Entry, error) {
	v, err := bitfield.Pack(d, nil)
	return RawL2Entry(v), err
}

// MustEncode is Encode for descriptors built from constants.
func (d TableDescriptor) MustEncode() RawL2Entry {
	e, err := d.Encode()
	if err != nil {
		panic(err)
	}
	return e
}

// SetOutputAddress stores a 64 KiB aligned table address.
func (d *TableDescriptor) SetOutputAddress(pa uint64) {
	d.Addr = uint32(pa >> AddrShift)
}

// Decode unpacks the raw entry into its fields.
func (e RawL2Entry) Decode() TableDescriptor {
	var d TableDescriptor
	if err := bitfield.Unpack(uint64(e), &d, nil); err != nil {
		panic(err)
	}
	return d
}

func (e RawL2Entry) Valid() bool { return l2Valid.Get(uint64(e)) == uint64(Valid) }

// IsTable reports whether bits[1:0] form a table descriptor.
func (e RawL2Entry) IsTable() bool { return e.Valid() && l2Type.Get(uint64(e)) == uint64(Table) }

func (e RawL2Entry) AP() EntryPerm { return EntryPerm(l2AP.Get(uint64(e))) }

// OutputAddress returns the L3 table address held in bits [47:16].
func (e RawL2Entry) OutputAddress() uint64 {
	return l2Addr.Get(uint64(e)) << AddrShift
}
