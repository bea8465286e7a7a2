package comms

import (
	"fmt"
	"net"

	"github.com/pkg/errors"
)

var (
	// ErrConnection means the directory could not be reached.
	ErrConnection = errors.New("cannot connect to bus directory")
	// ErrTimeout means a single call exceeded its deadline.
	ErrTimeout = errors.New("call timed out")
	// ErrTransport means the connection broke during a call.
	ErrTransport = errors.New("transport error")
	// ErrDuplicateSubscription is returned when a topic already has a handler.
	ErrDuplicateSubscription = errors.New("duplicate subscription")
	// ErrStartupTimeout is returned by the readiness poller when its ceiling elapses.
	ErrStartupTimeout = errors.New("remote did not become ready")
	// ErrServiceFailed is matched by every *ServiceError.
	ErrServiceFailed = errors.New("service call failed")
	// ErrNoSuchService means the directory has no endpoint for the service.
	ErrNoSuchService = errors.New("no such service")
	// ErrInvalidName is returned for malformed topic or service names.
	ErrInvalidName = errors.New("invalid name")
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("client closed")
)

// ServiceError carries the failure text a service server sent back.
type ServiceError struct {
	Service string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service %s failed: %s", e.Service, e.Message)
}

// Is makes errors.Is(err, ErrServiceFailed) hold for every ServiceError.
func (e *ServiceError) Is(target error) bool {
	return target == ErrServiceFailed
}

// classify maps a low level network error onto ErrTimeout or ErrTransport.
func classify(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrapf(ErrTimeout, format+": %v", append(args, err)...)
	}
	return errors.Wrapf(ErrTransport, format+": %v", append(args, err)...)
}

func isTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func isTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}
