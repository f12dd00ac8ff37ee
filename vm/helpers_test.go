//go:build unix

package vm

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/emlyons/pivm/frame"
)

// newArena returns an allocator over pages granules of host memory.
func newArena(t *testing.T, pages uintptr) *frame.Allocator {
	t.Helper()
	a, err := frame.NewArena(pages*frame.Granule, testLog(t))
	if err != nil {
		t.Fatalf("NewArena() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func testLog(t *testing.T) *logrus.Entry {
	log, _ := test.NewNullLogger()
	log.SetLevel(logrus.TraceLevel)
	return log.WithField("test", t.Name())
}

// hookedLog returns a logger whose entries are captured by the hook.
func hookedLog() (*logrus.Entry, *test.Hook) {
	log, hook := test.NewNullLogger()
	return logrus.NewEntry(log), hook
}

// mustPanic runs f and checks that it panics with an error wrapping want.
func mustPanic(t *testing.T, want error, f func()) {
	t.Helper()
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, want) {
			t.Errorf("panic value = %v, want an error wrapping %v", r, want)
		}
	}()
	f()
}
