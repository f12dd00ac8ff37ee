package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/fogleman/gg"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/emlyons/pivm/aarch64"
	"github.com/emlyons/pivm/klog"
	"github.com/emlyons/pivm/vm"
)

// One pixel per page, one row per 128 pages: 64 rows per L3 table.
const (
	renderCols   = 128
	renderRows   = vm.EntriesPerTable / renderCols
	renderMargin = 8
	renderScale  = 2
)

// renderCmd implements subcommands.Command for the "render" command.
type renderCmd struct {
	output string
	pages  int
	out    io.Writer
}

// Name implements subcommands.Command.Name.
func (*renderCmd) Name() string { return "render" }

// Synopsis implements subcommands.Command.Synopsis.
func (*renderCmd) Synopsis() string { return "draw the L3 occupancy of kernel and user tables" }

// Usage implements subcommands.Command.Usage.
func (*renderCmd) Usage() string {
	return `render [-o out.png] [-pages n] - draw one cell per L3 entry: ram, mmio, user and empty pages in different colours
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *renderCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.output, "o", "vm.png", "output PNG file.")
	f.IntVar(&r.pages, "pages", 64, "pages mapped into the sample user space.")
}

// Execute implements subcommands.Command.Execute.
func (r *renderCmd) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 || r.pages < 0 || r.pages > vm.NumL3Tables*vm.EntriesPerTable {
		f.Usage()
		return subcommands.ExitUsageError
	}
	dc, err := renderSpaces(r.pages, loggerFrom(args))
	if err != nil {
		fmt.Fprintf(r.out, "vmctl: %v\n", err)
		return subcommands.ExitFailure
	}
	if err := dc.SavePNG(r.output); err != nil {
		fmt.Fprintf(r.out, "vmctl: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Fprintf(r.out, "wrote %s (%dx%d)\n", r.output, dc.Width(), dc.Height())
	return subcommands.ExitSuccess
}

// renderSpaces builds the default kernel map and a user space with pages
// pages and draws their four L3 tables side by side: kernel L3[0], kernel
// L3[1], user L3[0], user L3[1].
func renderSpaces(pages int, log *logrus.Logger) (*gg.Context, error) {
	arena, err := newArena(kernelTables+vm.NumL3Tables+1+pages, log)
	if err != nil {
		return nil, err
	}
	defer arena.Close()

	k, err := vm.NewKernelAddressSpace(arena, vm.DefaultLayout(), klog.Module(log, "vm"))
	if err != nil {
		return nil, err
	}
	u, err := vm.NewUserAddressSpace(arena, klog.Module(log, "vm"))
	if err != nil {
		return nil, err
	}
	defer u.Release()
	for p := 0; p < pages; p++ {
		if _, err := u.TryAlloc(vm.UserImgBase.Add(uint64(p)*vm.PageSize), imagePerm(p)); err != nil {
			return nil, err
		}
	}

	const tables = 2 * vm.NumL3Tables
	panelW := renderCols*renderScale + renderMargin
	dc := gg.NewContext(tables*panelW+renderMargin, renderRows*renderScale+2*renderMargin)
	dc.SetRGB(0.1, 0.1, 0.1)
	dc.Clear()

	// Empty cells first, so only mapped pages need drawing.
	dc.SetRGB(0.25, 0.25, 0.25)
	for t := 0; t < tables; t++ {
		dc.DrawRectangle(float64(renderMargin+t*panelW), renderMargin, renderCols*renderScale, renderRows*renderScale)
	}
	dc.Fill()

	// Cells are batched per colour: one fill per class instead of one per
	// page.
	var cells [numClasses][][2]int
	plot := func(panel int, base vm.VirtualAddr, va vm.VirtualAddr, e aarch64.RawL3Entry) {
		s, err := vm.SlotOf(base, va)
		if err != nil {
			return
		}
		x := renderMargin + (panel+s.L2)*panelW + (s.L3%renderCols)*renderScale
		y := renderMargin + (s.L3/renderCols)*renderScale
		c := classify(e)
		cells[c] = append(cells[c], [2]int{x, y})
	}
	for va, e := range k.All() {
		plot(0, 0, va, e)
	}
	for va, e := range u.All() {
		plot(vm.NumL3Tables, vm.UserImgBase, va, e)
	}
	for c, pts := range cells {
		if len(pts) == 0 {
			continue
		}
		rgb := palette[c]
		dc.SetRGB(rgb[0], rgb[1], rgb[2])
		for _, p := range pts {
			dc.DrawRectangle(float64(p[0]), float64(p[1]), renderScale, renderScale)
		}
		dc.Fill()
	}
	return dc, nil
}

type cellClass int

const (
	classDevice cellClass = iota
	classKernel
	classUserText
	classUserRO
	classUserRW
	numClasses
)

var palette = [numClasses][3]float64{
	classDevice:   {0.9, 0.4, 0.1},
	classKernel:   {0.2, 0.5, 0.9},
	classUserText: {0.9, 0.2, 0.3},
	classUserRO:   {0.9, 0.8, 0.2},
	classUserRW:   {0.2, 0.8, 0.3},
}

func classify(e aarch64.RawL3Entry) cellClass {
	switch {
	case e.Attr() == aarch64.Dev:
		return classDevice
	case e.AP() == aarch64.KernRW:
		return classKernel
	case !e.UXN():
		return classUserText
	case e.AP() == aarch64.UserRO:
		return classUserRO
	}
	return classUserRW
}
