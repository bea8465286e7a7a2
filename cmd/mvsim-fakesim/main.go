// Command mvsim-fakesim stands in for the simulator. It accepts the
// simulator's own command line,
//
//	mvsim-fakesim launch <world.xml> --headless -v WARN --realtime-factor 0.1
//
// ignores the world file, and serves the bus until the shutdown service is
// called or it receives SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/edwinhayes/mvsimgo/comms"
	"github.com/edwinhayes/mvsimgo/config"
	"github.com/edwinhayes/mvsimgo/internal/fakesim"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("mvsim-fakesim", pflag.ExitOnError)
	config.RegisterFlags(fs)
	fs.Bool("headless", false, "accepted for compatibility")
	verbosity := fs.StringP("verbosity", "v", "", "simulator log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	fs.Float64("realtime-factor", 1, "accepted for compatibility")
	fs.Float64("fakesim.first_range", 9.96, "first range of every published scan")
	_ = fs.Parse(os.Args[1:])
	if args := fs.Args(); len(args) > 0 && args[0] != "launch" {
		fmt.Printf("USAGE: mvsim-fakesim [launch <world.xml>] [flags]\n")
		os.Exit(2)
	}
	path, _ := fs.GetString("config")

	cfg, err := config.Load(path, fs)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	level := cfg.LogLevel
	if *verbosity != "" {
		level = strings.ToLower(*verbosity)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	simCfg := fakesim.FromConfig(cfg)
	simCfg.Logger = comms.NewLogger(level)
	sim, err := fakesim.Start(ctx, simCfg)
	if err != nil {
		fmt.Println(err)
		stop()
		os.Exit(1)
	}
	if err := sim.Wait(); err != nil {
		fmt.Println(err)
		stop()
		os.Exit(1)
	}
}
