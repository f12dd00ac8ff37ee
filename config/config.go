// Package config describes the board the memory manager runs on: where RAM
// and the peripheral window sit, and how loud the kernel log is.
package config

import (
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/emlyons/pivm/vm"
)

// Memory is the physical memory map. Addresses are byte addresses and end
// bounds are exclusive.
type Memory struct {
	RAMStart uint64 `toml:"ram_start"`
	RAMEnd   uint64 `toml:"ram_end"`
	IOStart  uint64 `toml:"io_start"`
	IOEnd    uint64 `toml:"io_end"`
}

// Log configures the kernel logger.
type Log struct {
	// Level is a logrus level name: "trace", "debug", "info", "warn",
	// "error".
	Level string `toml:"level"`
}

// Board is the configuration for one board.
type Board struct {
	// Name is informational only.
	Name   string `toml:"name"`
	Memory Memory `toml:"memory"`
	Log    Log    `toml:"log"`
}

// Default returns the Raspberry Pi 3 board.
func Default() Board {
	l := vm.DefaultLayout()
	return Board{
		Name: "raspi3",
		Memory: Memory{
			RAMStart: l.RAM.Start.Uint64(),
			RAMEnd:   l.RAM.End.Uint64(),
			IOStart:  l.IO.Start.Uint64(),
			IOEnd:    l.IO.End.Uint64(),
		},
		Log: Log{Level: "info"},
	}
}

// Load reads a board file. Keys the file leaves out keep their Default
// values; unknown keys are an error.
func Load(path string) (Board, error) {
	b := Default()
	md, err := toml.DecodeFile(path, &b)
	if err != nil {
		return Board{}, errors.Wrapf(err, "decode board file %q", path)
	}
	if err := finish(b, md, path); err != nil {
		return Board{}, err
	}
	return b, nil
}

// Parse is Load for a board description held in memory.
func Parse(data string) (Board, error) {
	b := Default()
	md, err := toml.Decode(data, &b)
	if err != nil {
		return Board{}, errors.Wrap(err, "decode board")
	}
	if err := finish(b, md, "board"); err != nil {
		return Board{}, err
	}
	return b, nil
}

func finish(b Board, md toml.MetaData, name string) error {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return errors.Errorf("%s: unknown keys %s", name, strings.Join(keys, ", "))
	}
	return errors.Wrap(b.Validate(), name)
}

// Validate checks that the memory map can be identity mapped and that the
// log level parses.
func (b Board) Validate() error {
	if err := b.Layout().Validate(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(b.Log.Level); err != nil {
		return errors.Wrap(err, "log level")
	}
	return nil
}

// Layout converts the memory map for vm.
func (b Board) Layout() vm.Layout {
	return vm.Layout{
		RAM: vm.Range{Start: vm.PA(b.Memory.RAMStart), End: vm.PA(b.Memory.RAMEnd)},
		IO:  vm.Range{Start: vm.PA(b.Memory.IOStart), End: vm.PA(b.Memory.IOEnd)},
	}
}

// Level returns the parsed log level, info if it does not parse.
func (b Board) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(b.Log.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
