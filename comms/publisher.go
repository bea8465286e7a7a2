package comms

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Publisher streams frames of one type to every connected subscriber.
type Publisher struct {
	client   *Client
	topic    string
	typeName string
	addr     string
	listener net.Listener
	logger   *logrus.Entry

	msgChan          chan []byte
	sessionChan      chan *subscriberSession
	sessionErrorChan chan *subscriberSession
	shutdownChan     chan struct{}
	doneChan         chan struct{}
	shutdownOnce     sync.Once

	mu       sync.Mutex
	sessions map[*subscriberSession]struct{}
	wg       sync.WaitGroup
}

// Advertise starts publishing topic with the given type name and registers
// it with the directory.
func (c *Client) Advertise(topic string, typeName string) (*Publisher, error) {
	name, err := ResolveName(topic, true)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if pub, ok := c.publishers[name]; ok {
		if pub.typeName != typeName {
			return nil, errors.Errorf("topic %s already advertised with type %s", name, pub.typeName)
		}
		return pub, nil
	}

	listener, addr, err := listenRandomPort()
	if err != nil {
		return nil, errors.Wrap(err, "listen for subscribers")
	}
	pub := &Publisher{
		client:           c,
		topic:            name,
		typeName:         typeName,
		addr:             addr,
		listener:         listener,
		logger:           c.logger.WithField("topic", name),
		msgChan:          make(chan []byte, c.opts.queueSize),
		sessionChan:      make(chan *subscriberSession, 10),
		sessionErrorChan: make(chan *subscriberSession, 10),
		shutdownChan:     make(chan struct{}),
		doneChan:         make(chan struct{}),
		sessions:         make(map[*subscriberSession]struct{}),
	}

	ctx, cancel := c.directoryContext()
	defer cancel()
	if _, err := callDirectory(ctx, c.directory, "registerPublisher", c.callerID, name, typeName, addr); err != nil {
		listener.Close()
		return nil, errors.Wrapf(err, "registerPublisher %s", name)
	}

	c.publishers[name] = pub
	c.waitGroup.Add(1)
	go pub.start(&c.waitGroup)
	pub.logger.Debugf("Advertised %s on %s", typeName, addr)
	return pub, nil
}

// Topic is the canonical topic name.
func (pub *Publisher) Topic() string {
	return pub.topic
}

// Publish queues payload for every connected subscriber. It blocks while
// the slowest subscriber's queue is full.
func (pub *Publisher) Publish(payload []byte) error {
	select {
	case <-pub.doneChan:
		return ErrClosed
	default:
	}
	frame := encodeTopicFrame(pub.typeName, payload)
	select {
	case pub.msgChan <- frame:
		return nil
	case <-pub.doneChan:
		return ErrClosed
	}
}

// NumSubscribers is the number of connected subscriber sessions.
func (pub *Publisher) NumSubscribers() int {
	pub.mu.Lock()
	defer pub.mu.Unlock()
	return len(pub.sessions)
}

func (pub *Publisher) start(wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(pub.doneChan)
	pub.wg.Add(1)
	go pub.listenRemoteSubscriber()

	for {
		select {
		case frame := <-pub.msgChan:
			// Only this goroutine writes sessions.
			for s := range pub.sessions {
				s.enqueue(frame)
			}
			pub.client.opts.metrics.published(pub.topic)
		case s := <-pub.sessionChan:
			pub.mu.Lock()
			pub.sessions[s] = struct{}{}
			pub.mu.Unlock()
			pub.wg.Add(1)
			go s.start(&pub.wg)
		case s := <-pub.sessionErrorChan:
			pub.mu.Lock()
			delete(pub.sessions, s)
			pub.mu.Unlock()
		case <-pub.shutdownChan:
			pub.listener.Close()
			pub.mu.Lock()
			for s := range pub.sessions {
				s.close()
			}
			pub.sessions = map[*subscriberSession]struct{}{}
			pub.mu.Unlock()
			pub.wg.Wait()
			pub.logger.Debug("Publisher goroutine exit")
			return
		}
	}
}

func (pub *Publisher) listenRemoteSubscriber() {
	defer pub.wg.Done()
	for {
		conn, err := pub.listener.Accept()
		if err != nil {
			select {
			case <-pub.shutdownChan:
			default:
				pub.logger.Errorf("Accept failed: %v", err)
			}
			return
		}
		pub.logger.Debugf("Subscriber connected from %s", conn.RemoteAddr())
		select {
		case pub.sessionChan <- newSubscriberSession(pub, conn):
		case <-pub.shutdownChan:
			conn.Close()
			return
		}
	}
}

// Shutdown unregisters the topic and disconnects its subscribers.
func (pub *Publisher) Shutdown() error {
	pub.shutdownOnce.Do(func() {
		close(pub.shutdownChan)
		<-pub.doneChan
		ctx, cancel := context.WithTimeout(context.Background(), pub.client.opts.directoryTimeout)
		defer cancel()
		_, err := callDirectory(ctx, pub.client.directory, "unregisterPublisher", pub.client.callerID, pub.topic, pub.addr)
		if err != nil {
			pub.logger.Warnf("unregisterPublisher failed: %v", err)
		}
		pub.client.mu.Lock()
		if pub.client.publishers[pub.topic] == pub {
			delete(pub.client.publishers, pub.topic)
		}
		pub.client.mu.Unlock()
	})
	return nil
}

type subscriberSession struct {
	pub       *Publisher
	conn      net.Conn
	queue     chan []byte
	quitChan  chan struct{}
	closeOnce sync.Once
}

func newSubscriberSession(pub *Publisher, conn net.Conn) *subscriberSession {
	return &subscriberSession{
		pub:      pub,
		conn:     conn,
		queue:    make(chan []byte, pub.client.opts.queueSize),
		quitChan: make(chan struct{}),
	}
}

// enqueue blocks while the session's queue is full, which in turn fills
// msgChan and blocks Publish. It gives up when the session or the publisher
// shuts down.
func (s *subscriberSession) enqueue(frame []byte) {
	select {
	case s.queue <- frame:
	case <-s.quitChan:
	case <-s.pub.shutdownChan:
	}
}

func (s *subscriberSession) close() {
	s.closeOnce.Do(func() {
		close(s.quitChan)
		s.conn.Close()
	})
}

func (s *subscriberSession) start(wg *sync.WaitGroup) {
	defer wg.Done()
	pub := s.pub
	logger := pub.logger.WithField("subscriber", s.conn.RemoteAddr().String())
	defer func() {
		s.close()
		select {
		case pub.sessionErrorChan <- s:
		case <-pub.shutdownChan:
		}
	}()

	// 1. Read connection header
	_ = s.conn.SetDeadline(time.Now().Add(pub.client.opts.dialTimeout))
	headers, err := readConnectionHeader(s.conn)
	if err != nil {
		logger.Debugf("Failed to read connection header: %v", err)
		return
	}
	req := headerMap(headers)

	// 2. Check and answer
	var res []header
	switch {
	case req["topic"] != pub.topic:
		res = []header{{"error", "not publishing " + req["topic"]}}
	case req["type"] != pub.typeName && req["type"] != "*":
		res = []header{{"error", "type mismatch: publishing " + pub.typeName}}
	default:
		res = []header{
			{"callerid", pub.client.callerID},
			{"topic", pub.topic},
			{"type", pub.typeName},
		}
	}
	if err := writeConnectionHeader(res, s.conn); err != nil {
		logger.Debugf("Failed to write response header: %v", err)
		return
	}
	if _, failed := headerMap(res)["error"]; failed {
		logger.Warnf("Rejected subscriber %s: %s", req["callerid"], res[0].value)
		return
	}
	_ = s.conn.SetDeadline(time.Time{})
	logger.Debugf("Streaming to %s", req["callerid"])

	// 3. Stream frames
	for {
		select {
		case frame := <-s.queue:
			_ = s.conn.SetWriteDeadline(time.Now().Add(pub.client.opts.callTimeout))
			if err := writeBlock(s.conn, frame); err != nil {
				select {
				case <-s.quitChan:
				default:
					logger.Debugf("Write failed: %v", err)
				}
				return
			}
		case <-s.quitChan:
			return
		}
	}
}
