package comms

import (
	"time"

	"github.com/sirupsen/logrus"
)

type options struct {
	logger           *logrus.Logger
	callerID         string
	connectAttempts  int
	connectInterval  time.Duration
	directoryTimeout time.Duration
	dialTimeout      time.Duration
	callTimeout      time.Duration
	resolveInterval  time.Duration
	queueSize        int
	endpointCache    int
	metrics          *Metrics
}

func defaultOptions() options {
	return options{
		connectAttempts:  50,
		connectInterval:  100 * time.Millisecond,
		directoryTimeout: 2 * time.Second,
		dialTimeout:      2 * time.Second,
		callTimeout:      5 * time.Second,
		resolveInterval:  500 * time.Millisecond,
		queueSize:        100,
		endpointCache:    64,
	}
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger used by the client and everything it starts.
func WithLogger(l *logrus.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCallerID overrides the generated caller id.
func WithCallerID(id string) Option {
	return func(o *options) { o.callerID = id }
}

// WithConnectRetry bounds how long Connect waits for the directory.
func WithConnectRetry(attempts int, interval time.Duration) Option {
	return func(o *options) {
		if attempts > 0 {
			o.connectAttempts = attempts
		}
		o.connectInterval = interval
	}
}

// WithDirectoryTimeout bounds each directory request.
func WithDirectoryTimeout(d time.Duration) Option {
	return func(o *options) { o.directoryTimeout = d }
}

// WithCallTimeout sets the deadline used by CallContext when ctx has none.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// WithResolveInterval sets how often subscriptions look up publishers.
func WithResolveInterval(d time.Duration) Option {
	return func(o *options) { o.resolveInterval = d }
}

// WithQueueSize sets the per-connection frame queue length.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithMetrics records call and delivery metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}
