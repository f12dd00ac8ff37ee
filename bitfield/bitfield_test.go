package bitfield

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// frameFlags mirrors the per-frame metadata word the allocator once kept:
// two flags and a reserved remainder, packed into 32 bits.
type frameFlags struct {
	Allocated  bool   `bitfield:",1"`
	KernelPage bool   `bitfield:",1"`
	Reserved   uint32 `bitfield:",30"`
}

var cfg32 = &Config{NumBits: 32}

func TestPack(t *testing.T) {
	tests := []struct {
		name     string
		flags    frameFlags
		expected uint64
		wantErr  bool
	}{
		{
			name:     "all flags false",
			flags:    frameFlags{},
			expected: 0x00000000,
		},
		{
			name:     "only allocated",
			flags:    frameFlags{Allocated: true},
			expected: 0x00000001, // bit 0 set
		},
		{
			name:     "only kernel page",
			flags:    frameFlags{KernelPage: true},
			expected: 0x00000002, // bit 1 set
		},
		{
			name:     "both allocated and kernel",
			flags:    frameFlags{Allocated: true, KernelPage: true},
			expected: 0x00000003,
		},
		{
			name:     "with reserved bits",
			flags:    frameFlags{Allocated: true, Reserved: 0x12345678},
			expected: 0x48D159E1, // bit 0 set + reserved shifted left by 2
		},
		{
			name:    "reserved overflows 30 bits",
			flags:   frameFlags{Reserved: 0x40000000},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed, err := Pack(tt.flags, cfg32)
			if (err != nil) != tt.wantErr {
				t.Errorf("Pack() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if packed != tt.expected {
				t.Errorf("Pack() = 0x%08x, want 0x%08x", packed, tt.expected)
			}
		})
	}
}

func TestUnpack(t *testing.T) {
	tests := []struct {
		name     string
		packed   uint64
		expected frameFlags
	}{
		{"all zeros", 0x00000000, frameFlags{}},
		{"bit 0 set (allocated)", 0x00000001, frameFlags{Allocated: true}},
		{"bit 1 set (kernel page)", 0x00000002, frameFlags{KernelPage: true}},
		{"with reserved bits", 0x48D159E1, frameFlags{Allocated: true, Reserved: 0x12345678}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got frameFlags
			if err := Unpack(tt.packed, &got, cfg32); err != nil {
				t.Fatalf("Unpack() error = %v", err)
			}
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("Unpack(0x%08x) mismatch (-want +got):\n%s", tt.packed, diff)
			}
		})
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	testCases := []frameFlags{
		{Allocated: false, KernelPage: false, Reserved: 0},
		{Allocated: true, KernelPage: false, Reserved: 0},
		{Allocated: false, KernelPage: true, Reserved: 0},
		{Allocated: true, KernelPage: true, Reserved: 0x12345678},
		{Allocated: true, KernelPage: true, Reserved: 0x3FFFFFFF}, // Maximum 30-bit value
	}

	for i, original := range testCases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			packed, err := Pack(original, cfg32)
			if err != nil {
				t.Fatalf("Pack() error = %v", err)
			}
			var unpacked frameFlags
			if err := Unpack(packed, &unpacked, cfg32); err != nil {
				t.Fatalf("Unpack() error = %v", err)
			}
			if unpacked != original {
				t.Errorf("round trip: got %+v, want %+v", unpacked, original)
			}
		})
	}
}

func TestLayout(t *testing.T) {
	type sample struct {
		Low     uint8 `bitfield:",3"`
		Skipped int
		Flag    bool   `bitfield:",1"`
		High    uint64 `bitfield:",60"`
	}
	got, err := Layout(sample{})
	if err != nil {
		t.Fatalf("Layout() error = %v", err)
	}
	want := []Field{
		{Name: "Low", Index: 0, Shift: 0, Width: 3},
		{Name: "Flag", Index: 2, Shift: 3, Width: 1},
		{Name: "High", Index: 3, Shift: 4, Width: 60},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Layout() mismatch (-want +got):\n%s", diff)
	}

	high, ok := Lookup(got, "High")
	if !ok {
		t.Fatal("Lookup(High) not found")
	}
	if high.Mask() != 0xFFFFFFFFFFFFFFF0 {
		t.Errorf("High.Mask() = %#x, want %#x", high.Mask(), uint64(0xFFFFFFFFFFFFFFF0))
	}
	if _, ok := Lookup(got, "Skipped"); ok {
		t.Error("Lookup(Skipped) found an untagged field")
	}
}

func TestFieldGetSet(t *testing.T) {
	f := Field{Name: "Addr", Shift: 16, Width: 32}
	word := f.Set(0xFFFF, 0x3F00)
	if word != 0x3F00FFFF {
		t.Errorf("Set() = %#x, want %#x", word, 0x3F00FFFF)
	}
	if got := f.Get(word); got != 0x3F00 {
		t.Errorf("Get() = %#x, want %#x", got, 0x3F00)
	}
	// Bits above the width are dropped.
	if got := f.Set(0, 1<<32|5); got != 5<<16 {
		t.Errorf("Set() with overflow = %#x, want %#x", got, 5<<16)
	}
}

func TestErrors(t *testing.T) {
	type tooWide struct {
		A uint64 `bitfield:",40"`
		B uint64 `bitfield:",40"`
	}
	type badTag struct {
		A uint8 `bitfield:"three"`
	}
	type badKind struct {
		A string `bitfield:",4"`
	}
	type negative struct {
		A int8 `bitfield:",4"`
	}

	if _, err := Pack(42, nil); err == nil {
		t.Error("Pack(int) succeeded, want error")
	}
	if _, err := Pack(tooWide{}, nil); err == nil {
		t.Error("Pack(tooWide) succeeded, want error")
	}
	if _, err := Pack(badTag{}, nil); err == nil {
		t.Error("Pack(badTag) succeeded, want error")
	}
	if _, err := Pack(badKind{}, nil); err == nil {
		t.Error("Pack(badKind) succeeded, want error")
	}
	if _, err := Pack(negative{A: -1}, nil); err == nil {
		t.Error("Pack(negative) succeeded, want error")
	}
	var f frameFlags
	if err := Unpack(0, f, nil); err == nil {
		t.Error("Unpack(non-pointer) succeeded, want error")
	}
	// Bit 40 lies past the 32-bit layout and is ignored.
	if err := Unpack(1<<40, &f, nil); err != nil {
		t.Errorf("Unpack() with bits past the layout: %v", err)
	}
}

func ExamplePack() {
	flags := frameFlags{Allocated: true}

	packed, err := Pack(flags, &Config{NumBits: 32})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Packed flags: 0x%08x\n", packed)

	var unpacked frameFlags
	_ = Unpack(packed, &unpacked, nil)
	fmt.Printf("Unpacked - Allocated: %v, KernelPage: %v\n",
		unpacked.Allocated, unpacked.KernelPage)

	// Output:
	// Packed flags: 0x00000001
	// Unpacked - Allocated: true, KernelPage: false
}
