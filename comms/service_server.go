package comms

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ServiceHandler answers one request. A returned error is sent back to the
// caller as the failure text.
type ServiceHandler func(request []byte) ([]byte, error)

type serviceServer struct {
	client   *Client
	service  string
	typeName string
	handler  ServiceHandler
	addr     string
	listener net.Listener
	logger   *logrus.Entry

	sessions     sync.WaitGroup
	shutdownChan chan struct{}
	doneChan     chan struct{}
	shutdownOnce sync.Once
}

// AdvertiseService serves name with handler and registers it with the
// directory. Advertising the same name twice on one client fails.
func (c *Client) AdvertiseService(name string, typeName string, handler ServiceHandler) error {
	if handler == nil {
		return errors.New("nil service handler")
	}
	service, err := ResolveName(name, true)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	if _, ok := c.servers[service]; ok {
		return errors.Errorf("service %s already advertised", service)
	}

	listener, addr, err := listenRandomPort()
	if err != nil {
		return errors.Wrap(err, "listen for service clients")
	}
	s := &serviceServer{
		client:       c,
		service:      service,
		typeName:     typeName,
		handler:      handler,
		addr:         addr,
		listener:     listener,
		logger:       c.logger.WithField("service", service),
		shutdownChan: make(chan struct{}),
		doneChan:     make(chan struct{}),
	}

	ctx, cancel := c.directoryContext()
	defer cancel()
	if _, err := callDirectory(ctx, c.directory, "registerService", c.callerID, service, addr); err != nil {
		listener.Close()
		return errors.Wrapf(err, "registerService %s", service)
	}
	c.servers[service] = s
	c.waitGroup.Add(1)
	go s.start(&c.waitGroup)
	s.logger.Debugf("Serving %s on %s", typeName, addr)
	return nil
}

func (s *serviceServer) start(wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(s.doneChan)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdownChan:
			default:
				s.logger.Errorf("Accept failed: %v", err)
			}
			// In-flight sessions finish so their replies are delivered.
			s.sessions.Wait()
			s.logger.Debug("Service server goroutine exit")
			return
		}
		s.sessions.Add(1)
		go s.serve(conn)
	}
}

// Shutdown stops accepting calls, unregisters the service and waits for
// calls already in progress.
func (s *serviceServer) Shutdown() error {
	s.shutdownOnce.Do(func() {
		close(s.shutdownChan)
		s.listener.Close()
		ctx, cancel := context.WithTimeout(context.Background(), s.client.opts.directoryTimeout)
		defer cancel()
		_, err := callDirectory(ctx, s.client.directory, "unregisterService", s.client.callerID, s.service, s.addr)
		if err != nil {
			s.logger.Warnf("unregisterService failed: %v", err)
		}
		s.client.mu.Lock()
		if s.client.servers[s.service] == s {
			delete(s.client.servers, s.service)
		}
		s.client.mu.Unlock()
	})
	<-s.doneChan
	return nil
}

func (s *serviceServer) serve(conn net.Conn) {
	defer s.sessions.Done()
	defer conn.Close()
	logger := s.logger.WithField("client", conn.RemoteAddr().String())
	timeout := s.client.opts.callTimeout

	// 1. Read request header
	_ = conn.SetDeadline(time.Now().Add(timeout))
	reqHeaders, err := readConnectionHeader(conn)
	if err != nil {
		logger.Debugf("Failed to read connection header: %v", err)
		return
	}
	req := headerMap(reqHeaders)

	// 2. Write response header
	if req["service"] != s.service {
		_ = writeConnectionHeader([]header{{"error", "not serving " + req["service"]}}, conn)
		return
	}
	res := []header{
		{"callerid", s.client.callerID},
		{"service", s.service},
		{"type", s.typeName},
	}
	if err := writeConnectionHeader(res, conn); err != nil {
		logger.Debugf("Failed to write response header: %v", err)
		return
	}
	if req["probe"] == "1" {
		return
	}

	// 3. Read request
	request, err := readBlock(conn)
	if err != nil {
		logger.Debugf("Failed to read request: %v", err)
		return
	}

	// 4. Write OK byte and response
	response, err := s.invoke(request)
	_ = conn.SetDeadline(time.Now().Add(timeout))
	ok := byte(1)
	if err != nil {
		logger.Warnf("Handler failed: %v", err)
		ok = 0
		response = []byte(err.Error())
	}
	if _, err := conn.Write([]byte{ok}); err != nil {
		logger.Debugf("Failed to write OK byte: %v", err)
		return
	}
	if err := writeBlock(conn, response); err != nil {
		logger.Debugf("Failed to write response: %v", err)
	}
}

func (s *serviceServer) invoke(request []byte) (response []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(request)
}
