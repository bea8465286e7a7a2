// Package fakesim is a stand-in simulator speaking the bus protocol. It
// serves the directory, answers get_pose and shutdown, and streams a fixed
// 2D lidar scan.
package fakesim

import (
	"context"
	"math"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/edwinhayes/mvsimgo/comms"
	"github.com/edwinhayes/mvsimgo/config"
	"github.com/edwinhayes/mvsimgo/msgs"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	getPoseService  = "get_pose"
	shutdownService = "shutdown"
	notReady        = "simulator not ready"
)

// Config describes the simulated world.
type Config struct {
	// Address is the host:port the directory listens on. Port 0 picks one.
	Address      string
	Topic        string
	StartupDelay time.Duration
	Period       time.Duration
	FirstRange   float64
	Ranges       int
	Objects      []string
	Logger       *logrus.Logger
}

// FromConfig takes the directory address, scan topic and fakesim section
// of cfg.
func FromConfig(cfg *config.Config) Config {
	return Config{
		Address:      cfg.Directory.Address,
		Topic:        cfg.Scan.Topic,
		StartupDelay: cfg.Fakesim.StartupDelay,
		Period:       cfg.Fakesim.Period,
		FirstRange:   cfg.Fakesim.FirstRange,
		Ranges:       cfg.Fakesim.Ranges,
		Objects:      cfg.Fakesim.Objects,
	}
}

// Sim is a running fake simulator.
type Sim struct {
	cfg     Config
	address string
	logger  *logrus.Entry
	client  *comms.Client
	pub     *comms.Publisher
	started time.Time

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
	err      error
}

// Start serves the directory on cfg.Address and advertises the simulator's
// topic and services. It returns once the simulator can be reached; the
// services report "not ready" until StartupDelay has passed.
func Start(ctx context.Context, cfg Config) (*Sim, error) {
	if cfg.Logger == nil {
		cfg.Logger = comms.DefaultLogger()
	}
	if cfg.Topic == "" {
		cfg.Topic = "/r1/laser1_scan"
	}
	if cfg.Ranges <= 0 {
		return nil, errors.New("fakesim: ranges must be positive")
	}
	if cfg.Period <= 0 {
		cfg.Period = 50 * time.Millisecond
	}
	listener, err := net.Listen("tcp", strings.TrimPrefix(cfg.Address, "http://"))
	if err != nil {
		return nil, errors.Wrap(err, "fakesim: listen")
	}
	s := &Sim{
		cfg:      cfg,
		address:  "http://" + listener.Addr().String(),
		logger:   cfg.Logger.WithField("component", "fakesim"),
		started:  time.Now(),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return comms.ServeDirectory(gctx, listener, comms.NewDirectory(cfg.Logger))
	})

	if err := s.advertise(gctx); err != nil {
		cancel()
		_ = g.Wait()
		return nil, err
	}

	g.Go(func() error {
		return s.publish(gctx)
	})
	g.Go(func() error {
		select {
		case <-s.stopChan:
		case <-gctx.Done():
		}
		err := s.client.Close()
		cancel()
		return err
	})
	go func() {
		s.err = g.Wait()
		cancel()
		close(s.doneChan)
		s.logger.Info("Simulator stopped")
	}()
	s.logger.Infof("Simulator serving on %s", s.address)
	return s, nil
}

func (s *Sim) advertise(ctx context.Context) error {
	client, err := comms.Connect(ctx, s.address,
		comms.WithLogger(s.cfg.Logger),
		comms.WithCallerID("/mvsim_server"),
		comms.WithConnectRetry(20, 10*time.Millisecond))
	if err != nil {
		return err
	}
	s.client = client
	if err := client.AdvertiseService(getPoseService, msgs.TypeSrvGetPose, s.getPose); err != nil {
		client.Close()
		return err
	}
	if err := client.AdvertiseService(shutdownService, msgs.TypeSrvShutdown, s.shutdown); err != nil {
		client.Close()
		return err
	}
	if s.pub, err = client.Advertise(s.cfg.Topic, msgs.TypeObservationLidar2D); err != nil {
		client.Close()
		return err
	}
	return nil
}

// Address is the directory URL clients connect to.
func (s *Sim) Address() string {
	return s.address
}

// Done is closed once the simulator has stopped.
func (s *Sim) Done() <-chan struct{} {
	return s.doneChan
}

// Stop shuts the simulator down and waits for it.
func (s *Sim) Stop() error {
	s.requestStop()
	return s.Wait()
}

// Wait blocks until the simulator stops, either through Stop, the shutdown
// service or the context given to Start.
func (s *Sim) Wait() error {
	<-s.doneChan
	if errors.Is(s.err, context.Canceled) {
		return nil
	}
	return s.err
}

func (s *Sim) requestStop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *Sim) ready() bool {
	return time.Since(s.started) >= s.cfg.StartupDelay
}

func (s *Sim) knows(objectID string) (int, bool) {
	for i, id := range s.cfg.Objects {
		if id == objectID {
			return i, true
		}
	}
	return 0, false
}

func (s *Sim) getPose(request []byte) ([]byte, error) {
	var req msgs.SrvGetPose
	if err := req.Unmarshal(request); err != nil {
		return nil, err
	}
	var answer msgs.SrvGetPoseAnswer
	index, known := s.knows(req.ObjectID)
	switch {
	case !s.ready():
		answer.ErrorMessage = notReady
	case !known:
		answer.ErrorMessage = "object '" + req.ObjectID + "' not found"
	default:
		answer.Success = true
		answer.Pose = &msgs.Pose{X: float64(index) * 2, Y: 1}
	}
	return answer.Marshal()
}

// shutdown replies first; the simulator stops after the reply is sent.
func (s *Sim) shutdown(request []byte) ([]byte, error) {
	s.logger.Info("Shutdown requested")
	s.requestStop()
	return (&msgs.SrvShutdownAnswer{Accepted: true}).Marshal()
}

func (s *Sim) scan() *msgs.ObservationLidar2D {
	obs := &msgs.ObservationLidar2D{
		UnixTimestamp:  float64(time.Now().UnixNano()) / 1e9,
		SourceObjectID: "r1",
		SensorLabel:    "laser1",
		ScanRanges:     make([]float32, s.cfg.Ranges),
		ValidRanges:    make([]bool, s.cfg.Ranges),
		SensorPose:     &msgs.Pose{X: 0.2},
		Aperture:       math.Pi,
		MaxRange:       10,
	}
	for i := range obs.ScanRanges {
		obs.ScanRanges[i] = 5
		obs.ValidRanges[i] = true
	}
	obs.ScanRanges[0] = float32(s.cfg.FirstRange)
	return obs
}

func (s *Sim) publish(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopChan:
			return nil
		case <-ticker.C:
			if !s.ready() {
				continue
			}
			payload, err := s.scan().Marshal()
			if err != nil {
				return err
			}
			if err := s.pub.Publish(payload); err != nil {
				if errors.Is(err, comms.ErrClosed) {
					return nil
				}
				return err
			}
		}
	}
}
