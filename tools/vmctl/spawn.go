package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/google/subcommands"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/emlyons/pivm/frame"
	"github.com/emlyons/pivm/klog"
	"github.com/emlyons/pivm/vm"
)

// spawnCmd implements subcommands.Command for the "spawn" command.
type spawnCmd struct {
	procs int
	pages int
	jobs  int
	out   io.Writer
}

// Name implements subcommands.Command.Name.
func (*spawnCmd) Name() string { return "spawn" }

// Synopsis implements subcommands.Command.Synopsis.
func (*spawnCmd) Synopsis() string { return "build user address spaces concurrently from one frame pool" }

// Usage implements subcommands.Command.Usage.
func (*spawnCmd) Usage() string {
	return `spawn [-n procs] [-pages n] [-j jobs] - allocate user images, print their tables, release them
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *spawnCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.procs, "n", 4, "number of address spaces.")
	f.IntVar(&s.pages, "pages", 8, "pages mapped into each address space.")
	f.IntVar(&s.jobs, "j", 2, "address spaces built at once.")
}

// Execute implements subcommands.Command.Execute.
func (s *spawnCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 || s.procs < 1 || s.pages < 0 || s.jobs < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	log := loggerFrom(args)
	arena, err := newArena(s.procs*(vm.NumL3Tables+1+s.pages), log)
	if err != nil {
		fmt.Fprintf(s.out, "vmctl: %v\n", err)
		return subcommands.ExitFailure
	}
	defer arena.Close()

	images, err := spawn(ctx, arena, s.procs, s.pages, s.jobs, log)
	if err != nil {
		fmt.Fprintf(s.out, "vmctl: %v\n", err)
		return subcommands.ExitFailure
	}
	for i, u := range images {
		fmt.Fprintf(s.out, "proc %d: %s\n", i, u)
		for va, e := range u.All() {
			fmt.Fprintf(s.out, "  %s -> %s\n", va, e)
		}
		u.Release()
	}
	st := arena.Stats()
	fmt.Fprintf(s.out, "released: %d allocs, %d frees, %#x bytes in use\n", st.Allocs, st.Frees, st.InUse)
	return subcommands.ExitSuccess
}

// imagePerm is the permission of page i of a spawned image: a text page,
// then read-only data, then read/write data.
func imagePerm(i int) vm.PagePerm {
	switch i {
	case 0:
		return vm.RWX
	case 1:
		return vm.RO
	}
	return vm.RW
}

// spawn builds procs address spaces with pages pages each, at most jobs at
// a time. On error every space already built is released.
func spawn(ctx context.Context, alloc *frame.Allocator, procs, pages, jobs int, log *logrus.Logger) ([]*vm.UserAddressSpace, error) {
	images := make([]*vm.UserAddressSpace, procs)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i := range images {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			u, err := vm.NewUserAddressSpace(alloc, klog.Module(log, "vm").WithField("proc", i))
			if err != nil {
				return errors.Wrapf(err, "proc %d", i)
			}
			images[i] = u
			for p := 0; p < pages; p++ {
				va := vm.UserImgBase.Add(uint64(p) * vm.PageSize)
				b, err := u.TryAlloc(va, imagePerm(p))
				if err != nil {
					return errors.Wrapf(err, "proc %d", i)
				}
				// Tag each page so a mix-up between spaces is visible.
				b[0], b[1] = byte(i), byte(p)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, u := range images {
			if u != nil {
				u.Release()
			}
		}
		return nil, err
	}
	return images, nil
}
