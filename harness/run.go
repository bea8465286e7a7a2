// Package harness runs the still-lidar scenario against a simulator: launch
// it, wait until it answers pose queries, check one scan from the laser
// topic and shut it down.
package harness

import (
	"context"
	"sync"
	"time"

	"github.com/edwinhayes/mvsimgo/comms"
	"github.com/edwinhayes/mvsimgo/config"
	"github.com/edwinhayes/mvsimgo/msgs"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// Result summarizes one run.
type Result struct {
	Passed            bool
	ReadinessAttempts int
	Received          int64
	Rejected          int64
	// Pose is the readiness reply decoded, when it carried a pose.
	Pose    *PoseLookup
	Elapsed time.Duration
}

// waitState is the flag the subscription handler sets once a scan passes.
// done is closed together with the first transition to true.
type waitState struct {
	passed atomic.Bool
	once   sync.Once
	done   chan struct{}
}

func newWaitState() *waitState {
	return &waitState{done: make(chan struct{})}
}

func (s *waitState) set() {
	s.passed.Store(true)
	s.once.Do(func() { close(s.done) })
}

// Run executes the scenario described by cfg. Extra client options are
// applied after the ones derived from cfg. An error is returned when the
// scenario could not be carried out; a scenario that ran but saw no
// acceptable scan returns a Result with Passed false.
func Run(ctx context.Context, cfg *config.Config, opts ...comms.Option) (Result, error) {
	logger := comms.NewLogger(cfg.LogLevel)
	return run(ctx, cfg, logger, opts...)
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger, opts ...comms.Option) (Result, error) {
	start := time.Now()
	var result Result
	check, err := ScanCheckFromConfig(cfg.Scan)
	if err != nil {
		return result, err
	}
	log := logger.WithField("component", "harness")

	if cfg.Simulator.Launch {
		launcher := NewLauncher(cfg, logger)
		if err := launcher.Start(ctx); err != nil {
			return result, err
		}
		defer func() {
			if err := launcher.Stop(cfg.Simulator.StopTimeout); err != nil {
				log.Warnf("Stopping simulator: %v", err)
			}
		}()
	}

	log.Info("Connecting to server...")
	clientOpts := append([]comms.Option{
		comms.WithLogger(logger),
		comms.WithConnectRetry(cfg.Directory.ConnectAttempts, cfg.Directory.ConnectInterval),
		comms.WithDirectoryTimeout(cfg.Directory.Timeout),
	}, opts...)
	client, err := comms.Connect(ctx, cfg.Directory.Address, clientOpts...)
	if err != nil {
		return result, err
	}
	defer client.Close()
	log.Info("Connected successfully.")

	// The simulator advertises its topics before it can answer pose
	// queries, so a full pose reply means subscribing is safe.
	req, err := (&msgs.SrvGetPose{ObjectID: cfg.Readiness.ObjectID}).Marshal()
	if err != nil {
		return result, err
	}
	reply, err := client.WaitForService(ctx, cfg.Readiness.Service, req, comms.ReadinessOptions{
		MinLength:      cfg.Readiness.MinLength,
		AttemptTimeout: cfg.Readiness.AttemptTimeout,
		Interval:       cfg.Readiness.Interval,
		Ceiling:        cfg.Readiness.Ceiling,
		Probe:          cfg.Readiness.Probe,
		OnAttempt: func(attempt int, _ int, _ error) {
			result.ReadinessAttempts = attempt
		},
	})
	if err != nil {
		return result, err
	}
	if pose, err := decodePose(cfg.Readiness.ObjectID, reply); err == nil {
		result.Pose = &pose
		log.Infof("%s is at (%.2f, %.2f)", pose.ObjectID, pose.Pose.X, pose.Pose.Y)
	}

	state := newWaitState()
	var received, rejected atomic.Int64
	err = client.Subscribe(cfg.Scan.Topic, func(typeTag string, payload []byte) {
		received.Inc()
		if err := check.Accept(typeTag, payload); err != nil {
			rejected.Inc()
			log.Debugf("%v", err)
			return
		}
		state.set()
	})
	if err != nil {
		return result, err
	}

	comms.WaitForSignalContext(ctx, state.done, cfg.Wait.Iterations, cfg.Wait.Interval, func(int) {
		log.Info("Running and waiting...")
	})
	interrupted := ctx.Err()
	if interrupted != nil {
		log.Warnf("Scan wait interrupted: %v", interrupted)
	}

	// The simulator is stopped even when the wait was interrupted.
	if err := client.Shutdown(cfg.Shutdown.Timeout); err != nil {
		return result, errors.Wrap(err, "shutdown")
	}
	if interrupted != nil {
		result.Elapsed = time.Since(start)
		return result, errors.Wrap(interrupted, "waiting for a scan")
	}

	// Closing stops delivery, so the counters below are final.
	if err := client.Close(); err != nil {
		log.Warnf("Closing client: %v", err)
	}
	result.Passed = state.passed.Load()
	result.Received = received.Load()
	result.Rejected = rejected.Load()
	result.Elapsed = time.Since(start)
	return result, nil
}
