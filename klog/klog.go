// Package klog builds the kernel's loggers. Output goes to a byte sink
// such as the UART, so records are plain text without timestamps or colour.
package klog

import (
	"cmp"
	"io"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing text records at level and above to w.
func New(w io.Writer, level logrus.Level) *logrus.Logger {
	return &logrus.Logger{
		Out: w,
		Formatter: &logrus.TextFormatter{
			DisableColors:    true,
			DisableTimestamp: true,
			DisableQuote:     true,
			SortingFunc:      sortModuleFirst,
		},
		Hooks: make(logrus.LevelHooks),
		Level: level,
	}
}

// Module returns an entry tagged with the subsystem name.
func Module(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("module", name)
}

// sortModuleFirst keeps the standard level/msg keys in front and puts the
// module name right after them.
func sortModuleFirst(keys []string) {
	slices.SortStableFunc(keys, func(a, b string) int {
		if c := cmp.Compare(rank(a), rank(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
}

func rank(key string) int {
	switch key {
	case logrus.FieldKeyLevel:
		return 0
	case logrus.FieldKeyMsg:
		return 1
	case "module":
		return 2
	}
	return 3
}
