package comms

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	logger     *logrus.Logger
	loggerOnce sync.Once
)

// DefaultLogger returns the process wide logger used when no logger option is given.
func DefaultLogger() *logrus.Logger {
	loggerOnce.Do(func() {
		logger = logrus.StandardLogger()
	})
	return logger
}

// NewLogger returns a logger writing text lines with full timestamps at level.
// An unknown level falls back to info.
func NewLogger(level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}
