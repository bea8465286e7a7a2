package comms

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Call invokes service with request and waits at most timeout for the reply.
// A timeout of zero uses the client's default call timeout.
func (c *Client) Call(service string, request []byte, timeout time.Duration) ([]byte, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.CallContext(ctx, service, request)
}

// CallContext invokes service with request on a dedicated connection. The
// call ends when the reply arrives or ctx is done; a ctx without a deadline
// gets the client's default call timeout.
func (c *Client) CallContext(ctx context.Context, service string, request []byte) (response []byte, err error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	name, err := ResolveName(service, true)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		c.opts.metrics.observeCall(name, start, err)
	}()
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.callTimeout)
		defer cancel()
	}

	conn, stop, err := c.openService(ctx, name, false)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	defer stop()

	// 3. Send request
	if err := writeBlock(conn, request); err != nil {
		return nil, c.callError(ctx, name, err, "write request")
	}

	// 4. Read OK byte
	var ok [1]byte
	if _, err := io.ReadFull(conn, ok[:]); err != nil {
		return nil, c.callError(ctx, name, err, "read OK byte")
	}

	// 5. Receive response
	body, err := readBlock(conn)
	if err != nil {
		return nil, c.callError(ctx, name, err, "read response")
	}
	if ok[0] == 0 {
		return nil, &ServiceError{Service: name, Message: string(body)}
	}
	return body, nil
}

// ProbeService checks that service is served, without invoking its
// handler, and returns the type name the server reports. A ctx without a
// deadline gets the client's default call timeout.
func (c *Client) ProbeService(ctx context.Context, service string) (string, error) {
	if c.closed.Load() {
		return "", ErrClosed
	}
	name, err := ResolveName(service, true)
	if err != nil {
		return "", err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.callTimeout)
		defer cancel()
	}
	conn, stop, err := c.openService(ctx, name, true)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	defer stop()
	return conn.typeName, nil
}

type serviceConn struct {
	net.Conn
	typeName string
}

// openService dials the server of name and exchanges connection headers.
// The returned stop func detaches the conn from ctx.
func (c *Client) openService(ctx context.Context, name string, probe bool) (*serviceConn, func() bool, error) {
	addr, err := c.lookupService(ctx, name)
	if err != nil {
		return nil, nil, c.callError(ctx, name, err, "lookupService")
	}
	c.logger.WithField("service", name).Debugf("Connecting to %s at %s", name, addr)

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, c.callError(ctx, name, err, "dial %s", addr)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	fail := func(err error) (*serviceConn, func() bool, error) {
		stop()
		conn.Close()
		return nil, nil, err
	}

	// 1. Write connection header
	headers := []header{
		{"service", name},
		{"callerid", c.callerID},
	}
	if probe {
		headers = append(headers, header{"probe", "1"})
	}
	if err := writeConnectionHeader(headers, conn); err != nil {
		return fail(c.callError(ctx, name, err, "write connection header"))
	}

	// 2. Read response header
	resHeaders, err := readConnectionHeader(conn)
	if err != nil {
		return fail(c.callError(ctx, name, err, "read response header"))
	}
	res := headerMap(resHeaders)
	if msg, ok := res["error"]; ok {
		c.endpoints.Remove(name)
		return fail(errors.Wrapf(ErrNoSuchService, "%s: %s", name, msg))
	}
	return &serviceConn{Conn: conn, typeName: res["type"]}, stop, nil
}

// callError maps a failure during a call onto the error taxonomy. Transport
// failures evict the cached endpoint so the next call looks it up again.
func (c *Client) callError(ctx context.Context, service string, err error, format string, args ...interface{}) error {
	if errors.Is(err, ErrNoSuchService) {
		return err
	}
	msg := service + ": " + fmt.Sprintf(format, args...)
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		if isTimeout(err) {
			return err
		}
		return errors.Wrapf(ErrTimeout, "%s: %v", msg, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return errors.Wrap(ctx.Err(), msg)
	}
	c.endpoints.Remove(service)
	if isTimeout(err) || isTransport(err) {
		return err
	}
	return classify(err, "%s", msg)
}
