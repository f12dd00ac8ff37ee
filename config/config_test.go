package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/emlyons/pivm/vm"
)

func TestDefault(t *testing.T) {
	b := Default()
	if err := b.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if diff := cmp.Diff(vm.DefaultLayout(), b.Layout()); diff != "" {
		t.Errorf("Layout() mismatch (-want +got):\n%s", diff)
	}
	if b.Level() != logrus.InfoLevel {
		t.Errorf("Level() = %v, want info", b.Level())
	}
}

func TestParse(t *testing.T) {
	const board = `
name = "raspi3-512"

[memory]
ram_end = 0x1c000000

[log]
level = "debug"
`
	b, err := Parse(board)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := Default()
	want.Name = "raspi3-512"
	want.Memory.RAMEnd = 0x1c00_0000
	want.Log.Level = "debug"
	if diff := cmp.Diff(want, b); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
	if b.Level() != logrus.DebugLevel {
		t.Errorf("Level() = %v, want debug", b.Level())
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		board  string
		layout bool
	}{
		{"syntax", "name = ", false},
		{"unknown key", "[memory]\nram_size = 1\n", false},
		{"bad level", "[log]\nlevel = \"loud\"\n", false},
		{"unaligned ram", "[memory]\nram_end = 0x1000\n", true},
		{"io past window", "[memory]\nio_end = 0x40010000\n", true},
		{"overlap", "[memory]\nram_end = 0x3f100000\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.board)
			if err == nil {
				t.Fatal("Parse() succeeded")
			}
			if got := errors.Is(err, vm.ErrBadLayout); got != tt.layout {
				t.Errorf("Parse() error = %v, layout error %v, want %v", err, got, tt.layout)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.toml")
	if err := os.WriteFile(path, []byte("[memory]\nio_start = 0x3f200000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := b.Layout().IO.Start; got != 0x3f20_0000 {
		t.Errorf("IO.Start = %s, want 0x3f200000", got)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Load() of a missing file succeeded")
	}
}
