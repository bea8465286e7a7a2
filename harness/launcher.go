package harness

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/edwinhayes/mvsimgo/comms"
	"github.com/edwinhayes/mvsimgo/config"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Launcher runs the simulator as a child process. Its output is passed
// through and never parsed.
type Launcher struct {
	Path   string
	Args   []string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer

	logger *logrus.Entry
	mu     sync.Mutex
	cmd    *exec.Cmd
	done   chan struct{}
	err    error
}

// LaunchArgs builds "launch <world> --headless -v <level> --realtime-factor <f>"
// followed by extra.
func LaunchArgs(world, verbosity string, realtimeFactor float64, extra ...string) []string {
	args := []string{"launch", world, "--headless", "-v", verbosity,
		"--realtime-factor", strconv.FormatFloat(realtimeFactor, 'g', -1, 64)}
	return append(args, extra...)
}

// NewLauncher prepares a launcher for the configured simulator and world.
// A nil logger uses comms.DefaultLogger.
func NewLauncher(cfg *config.Config, logger *logrus.Logger) *Launcher {
	if logger == nil {
		logger = comms.DefaultLogger()
	}
	return &Launcher{
		Path: cfg.Simulator.ExePath,
		Args: LaunchArgs(cfg.WorldPath(), cfg.Simulator.Verbosity,
			cfg.Simulator.RealtimeFactor, cfg.Simulator.ExtraArgs...),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		logger: logger.WithField("component", "launcher"),
	}
}

func (l *Launcher) log() *logrus.Entry {
	if l.logger == nil {
		l.logger = comms.DefaultLogger().WithField("component", "launcher")
	}
	return l.logger
}

// Start launches the process. The process is killed if ctx ends first.
func (l *Launcher) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cmd != nil {
		return errors.New("simulator already launched")
	}
	cmd := exec.CommandContext(ctx, l.Path, l.Args...)
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "launch %s", l.Path)
	}
	l.log().Infof("Launched %s (pid %d)", l.Path, cmd.Process.Pid)
	l.cmd = cmd
	l.done = make(chan struct{})
	go func() {
		err := cmd.Wait()
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.done)
	}()
	return nil
}

// Running reports whether the process was started and has not exited.
func (l *Launcher) Running() bool {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Wait blocks until the process exits and returns its exit error.
func (l *Launcher) Wait() error {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done == nil {
		return errors.New("simulator not launched")
	}
	<-done
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Stop gives the process timeout to exit after an interrupt, then kills it.
// Stopping a process that already exited does nothing.
func (l *Launcher) Stop(timeout time.Duration) error {
	l.mu.Lock()
	cmd, done := l.cmd, l.done
	l.mu.Unlock()
	if cmd == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
		l.log().Debug("Simulator exited")
		return nil
	case <-time.After(timeout):
	}
	l.log().Warnf("Simulator still running after %v, killing it", timeout)
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.Wrap(err, "kill simulator")
	}
	<-done
	return nil
}
