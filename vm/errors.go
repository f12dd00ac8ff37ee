package vm

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Memory contract violations. Operations documented as fatal panic with one
// of these, wrapped with context; errors.Is on the recovered value finds
// the sentinel.
var (
	ErrMisaligned         = errors.New("vm: address is not page aligned")
	ErrOutOfWindow        = errors.New("vm: address outside the translated window")
	ErrBelowUserBase      = errors.New("vm: address below the user image base")
	ErrAlreadyMapped      = errors.New("vm: page already mapped")
	ErrOutOfMemory        = errors.New("vm: out of physical memory")
	ErrAlreadyInitialized = errors.New("vm: memory manager already initialized")
	ErrNotInitialized     = errors.New("vm: memory manager not initialized")
	ErrGranuleUnsupported = errors.New("vm: 64KiB translation granule not supported")
	ErrBadLayout          = errors.New("vm: bad physical memory layout")
	ErrReleased           = errors.New("vm: address space already released")
	ErrInUse              = errors.New("vm: address space is loaded in TTBR1")
)

// fatal logs err and halts the caller by panicking with it.
func fatal(log *logrus.Entry, err error) {
	log.WithError(err).Error("fatal memory error")
	panic(err)
}

func moduleLog(log *logrus.Entry) *logrus.Entry {
	if log == nil {
		return logrus.WithField("module", "vm")
	}
	return log
}
