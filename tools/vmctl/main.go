// Command vmctl builds kernel and user address spaces on the host and
// inspects them. Physical memory is an mmap'd arena, so every table it
// prints is a real table laid out exactly as the kernel would lay it out.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/emlyons/pivm/klog"
)

var logLevel = flag.String("log-level", "warn", "log level: trace, debug, info, warn, error.")

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&layoutCmd{out: os.Stdout}, "")
	subcommands.Register(&kernelCmd{out: os.Stdout}, "")
	subcommands.Register(&spawnCmd{out: os.Stdout}, "")
	subcommands.Register(&renderCmd{out: os.Stdout}, "")
	flag.Parse()

	lvl, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fatalf("bad -log-level: %v", err)
	}
	log := klog.New(os.Stderr, lvl)

	os.Exit(int(subcommands.Execute(context.Background(), log)))
}
