package vm

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/emlyons/pivm/aarch64"
)

const (
	uninitialized uint32 = iota
	initializing
	initialized
)

// ManagerConfig wires a Manager to its collaborators.
type ManagerConfig struct {
	Allocator FrameAllocator
	MMU       MMU
	// Layout defaults to DefaultLayout.
	Layout Layout
	Log    *logrus.Entry
}

// Manager owns the kernel address space and the MMU. It moves once from
// uninitialized to initialized, when Initialize turns translation on. The
// first Initialize claims the transition, so a second caller fails even
// while the first is still running.
type Manager struct {
	alloc  FrameAllocator
	mmu    MMU
	layout Layout
	log    *logrus.Entry

	state  atomic.Uint32
	kernel *KernelAddressSpace
	active *UserAddressSpace
}

// NewManager returns an uninitialized manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Layout == (Layout{}) {
		cfg.Layout = DefaultLayout()
	}
	return &Manager{
		alloc:  cfg.Allocator,
		mmu:    cfg.MMU,
		layout: cfg.Layout,
		log:    moduleLog(cfg.Log),
	}
}

// Initialized reports whether Initialize has completed.
func (m *Manager) Initialized() bool {
	return m.state.Load() == initialized
}

// Initialize builds the kernel address space and enables the MMU with
// caches on. It runs with interrupts masked. Calling it twice, a CPU
// without the 64 KiB granule, a bad layout or running out of memory for the
// tables are all fatal. There is no retry after a fatal failure.
func (m *Manager) Initialize() {
	if !m.state.CompareAndSwap(uninitialized, initializing) {
		fatal(m.log, ErrAlreadyInitialized)
	}

	irq := m.mmu.MaskInterrupts()
	defer m.mmu.RestoreInterrupts(irq)

	features := m.mmu.MemoryFeatures()
	if !features.Supports64K() {
		fatal(m.log, errors.Wrapf(ErrGranuleUnsupported, "TGran64=%#x", features.TGran64))
	}

	kernel, err := NewKernelAddressSpace(m.alloc, m.layout, m.log)
	if err != nil {
		fatal(m.log, err)
	}

	tcr := aarch64.KernelTCR(features.PARange)
	m.mmu.SetMemoryAttributes(aarch64.MAIR())
	m.mmu.SetTranslationControl(tcr.Value())
	m.mmu.SetKernelBase(kernel.BaseAddr())
	m.mmu.EnableTranslation(aarch64.SctlrM | aarch64.SctlrC | aarch64.SctlrI)

	m.kernel = kernel
	m.state.Store(initialized)
	m.log.WithFields(logrus.Fields{
		"ttbr":    kernel.BaseAddr(),
		"parange": features.PARange,
	}).Info("MMU enabled")
}

func (m *Manager) mustBeInitialized() {
	if !m.Initialized() {
		fatal(m.log, ErrNotInitialized)
	}
}

// Kernel returns the kernel address space.
func (m *Manager) Kernel() *KernelAddressSpace {
	m.mustBeInitialized()
	return m.kernel
}

// NewUserAddressSpace creates an empty address space for a new process.
// Running out of memory for its tables is fatal.
func (m *Manager) NewUserAddressSpace() *UserAddressSpace {
	m.mustBeInitialized()
	u, err := NewUserAddressSpace(m.alloc, m.log)
	if err != nil {
		fatal(m.log, err)
	}
	return u
}

// Switch makes u the translation for the user window and flushes the TLB.
// From then until the next Switch, pages u allocates are invalidated in
// the TLB as they are mapped.
func (m *Manager) Switch(u *UserAddressSpace) {
	m.mustBeInitialized()
	base := u.BaseAddr()

	irq := m.mmu.MaskInterrupts()
	m.mmu.SetUserBase(base)
	m.mmu.InvalidateAll()
	if m.active != nil {
		m.active.tlb = nil
	}
	u.tlb = m.mmu
	m.active = u
	m.mmu.RestoreInterrupts(irq)

	m.log.WithField("ttbr1", base).Debug("user address space switched")
}

// Release tears u down. When u is the loaded user space, TTBR1 is first
// pointed back at the kernel table and the TLB flushed, so nothing walks
// the freed tables.
func (m *Manager) Release(u *UserAddressSpace) {
	m.mustBeInitialized()
	if m.active == u {
		irq := m.mmu.MaskInterrupts()
		m.mmu.SetUserBase(m.kernel.BaseAddr())
		m.mmu.InvalidateAll()
		u.tlb = nil
		m.active = nil
		m.mmu.RestoreInterrupts(irq)
		m.log.WithField("ttbr1", m.kernel.BaseAddr()).Debug("user address space unloaded")
	}
	u.Release()
}

// Active returns the user address space loaded by the last Switch, or nil.
func (m *Manager) Active() *UserAddressSpace {
	return m.active
}
