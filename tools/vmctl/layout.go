package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/google/subcommands"
	"github.com/pkg/errors"

	"github.com/emlyons/pivm/vm"
)

// layoutCmd implements subcommands.Command for the "layout" command.
type layoutCmd struct {
	perm string
	out  io.Writer
}

// Name implements subcommands.Command.Name.
func (*layoutCmd) Name() string { return "layout" }

// Synopsis implements subcommands.Command.Synopsis.
func (*layoutCmd) Synopsis() string { return "decompose a virtual address into table indices" }

// Usage implements subcommands.Command.Usage.
func (*layoutCmd) Usage() string {
	return `layout [-perm RW|RO|RWX] <va>... - show the window, slot and descriptor for each address
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *layoutCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.perm, "perm", "RW", "permission used to show a user page descriptor.")
}

// Execute implements subcommands.Command.Execute.
func (l *layoutCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	perm, err := parsePerm(l.perm)
	if err != nil {
		fmt.Fprintf(l.out, "vmctl: %v\n", err)
		return subcommands.ExitUsageError
	}
	status := subcommands.ExitSuccess
	for _, arg := range f.Args() {
		v, err := parseAddr(arg)
		if err != nil {
			fmt.Fprintf(l.out, "vmctl: %v\n", err)
			status = subcommands.ExitFailure
			continue
		}
		describe(l.out, vm.VA(v), perm)
	}
	return status
}

func parsePerm(s string) (vm.PagePerm, error) {
	for _, p := range []vm.PagePerm{vm.RW, vm.RO, vm.RWX} {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, errors.Errorf("unknown permission %q", s)
}

// describe prints how va is translated. Kernel addresses show the identity
// descriptor the default board installs; user addresses show the
// descriptor Alloc would install with perm.
func describe(w io.Writer, va vm.VirtualAddr, perm vm.PagePerm) {
	fmt.Fprintf(w, "va %s\n", va)
	page := va.AlignDown()
	if page != va {
		fmt.Fprintf(w, "  page %s offset %#x\n", page, va.PageOffset())
	}

	if s, err := vm.SlotOf(0, page); err == nil {
		fmt.Fprintf(w, "  kernel window (TTBR0): %s\n", s)
		layout := vm.DefaultLayout()
		pa := vm.PhysicalAddr(page)
		switch {
		case layout.RAM.Contains(pa):
			fmt.Fprintf(w, "  ram identity map: %s\n", vm.KernelEntry(pa, false))
		case layout.IO.Contains(pa):
			fmt.Fprintf(w, "  mmio identity map: %s\n", vm.KernelEntry(pa, true))
		default:
			fmt.Fprintln(w, "  not mapped")
		}
		return
	}
	if s, err := vm.SlotOf(vm.UserImgBase, page); err == nil {
		fmt.Fprintf(w, "  user window (TTBR1): %s\n", s)
		d := perm.Entry(0).Decode()
		fmt.Fprintf(w, "  %s page: ap=%s uxn=%v pxn=%v attr=%d sh=%d\n", perm, d.AP, d.UXN, d.PXN, d.Attr, d.SH)
		return
	}
	fmt.Fprintln(w, "  outside both windows: translation fault")
}
