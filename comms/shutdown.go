package comms

import (
	"time"

	"github.com/pkg/errors"
)

// ShutdownService is the parameterless service that stops the simulator.
const ShutdownService = "/shutdown"

// Shutdown asks the remote side to stop. The server may drop the connection
// or stop answering while tearing down, so transport errors, timeouts and an
// already unregistered service are logged and count as success. Only a
// failure reported by the service is returned.
func (c *Client) Shutdown(timeout time.Duration) error {
	return c.shutdown(ShutdownService, nil, timeout)
}

func (c *Client) shutdown(service string, request []byte, timeout time.Duration) error {
	logger := c.logger.WithField("service", service)
	_, err := c.Call(service, request, timeout)
	switch {
	case err == nil:
		logger.Debug("Shutdown acknowledged")
		return nil
	case errors.Is(err, ErrServiceFailed):
		return err
	case errors.Is(err, ErrClosed):
		return err
	default:
		logger.Infof("Shutdown call ended without a reply: %v", err)
		return nil
	}
}
