package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/emlyons/pivm/config"
	"github.com/emlyons/pivm/frame"
	"github.com/emlyons/pivm/klog"
)

// Tables for the kernel identity map: one L2 and two L3 tables.
const kernelTables = 3

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "vmctl: "+format+"\n", args...)
	os.Exit(128)
}

// loggerFrom recovers the logger main passes to every command.
func loggerFrom(args []interface{}) *logrus.Logger {
	if len(args) > 0 {
		if l, ok := args[0].(*logrus.Logger); ok {
			return l
		}
	}
	return logrus.StandardLogger()
}

// parseAddr accepts decimal, 0x hex and '_' digit separators.
func parseAddr(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "address %q", s)
	}
	return v, nil
}

// loadBoard reads path, or returns the default board when path is empty.
func loadBoard(path string) (config.Board, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// newArena maps enough host memory for pages granules.
func newArena(pages int, log *logrus.Logger) (*frame.Allocator, error) {
	return frame.NewArena(uintptr(pages)*frame.Granule, klog.Module(log, "frame"))
}
