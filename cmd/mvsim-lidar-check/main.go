// Command mvsim-lidar-check launches the simulator with the still-lidar
// world and checks that the robot's laser sees the wall at 9.96m.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/edwinhayes/mvsimgo/comms"
	"github.com/edwinhayes/mvsimgo/config"
	"github.com/edwinhayes/mvsimgo/harness"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("mvsim-lidar-check", pflag.ExitOnError)
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])
	path, _ := fs.GetString("config")

	cfg, err := config.Load(path, fs)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	logger := comms.NewLogger(cfg.LogLevel)

	var opts []comms.Option
	if cfg.Metrics.ListenAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, comms.WithMetrics(comms.NewMetrics(reg)))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil {
				logger.Errorf("metrics endpoint: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	result, err := harness.Run(ctx, cfg, opts...)
	if err != nil {
		logger.Errorf("Scenario aborted: %v", err)
		stop()
		os.Exit(2)
	}
	fmt.Printf("passed=%v readiness_attempts=%d received=%d rejected=%d elapsed=%v\n",
		result.Passed, result.ReadinessAttempts, result.Received, result.Rejected, result.Elapsed)
	if !result.Passed {
		stop()
		os.Exit(1)
	}
}
