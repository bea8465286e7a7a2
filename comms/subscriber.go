package comms

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type messageEvent struct {
	typeTag   string
	payload   []byte
	publisher string
}

type disconnectEvent struct {
	addr string
	quit chan struct{}
}

// The subscription runs in its own goroutine (start). Fields below the
// channels are only touched from that goroutine.
type subscriber struct {
	client           *Client
	topic            string
	handler          Handler
	logger           *logrus.Entry
	msgChan          chan messageEvent
	disconnectedChan chan disconnectEvent
	shutdownChan     chan struct{}
	doneChan         chan struct{}
	shutdownOnce     sync.Once

	pubList     []string
	connections map[string]chan struct{}
	readers     sync.WaitGroup
}

func newSubscriber(c *Client, topic string, handler Handler) *subscriber {
	return &subscriber{
		client:           c,
		topic:            topic,
		handler:          handler,
		logger:           c.logger.WithField("topic", topic),
		msgChan:          make(chan messageEvent, c.opts.queueSize),
		disconnectedChan: make(chan disconnectEvent, 10),
		shutdownChan:     make(chan struct{}),
		doneChan:         make(chan struct{}),
		connections:      make(map[string]chan struct{}),
	}
}

func (sub *subscriber) start(wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(sub.doneChan)
	sub.logger.Debug("Subscriber goroutine started")

	resolve := time.NewTimer(0)
	defer resolve.Stop()
	for {
		select {
		case <-resolve.C:
			sub.refreshPublishers()
			resolve.Reset(sub.client.opts.resolveInterval)
		case ev := <-sub.msgChan:
			sub.handler(ev.typeTag, ev.payload)
			sub.client.opts.metrics.delivered(sub.topic)
		case ev := <-sub.disconnectedChan:
			// A stale event for a connection that was already replaced is ignored.
			if quit, ok := sub.connections[ev.addr]; ok && quit == ev.quit {
				sub.logger.Debugf("Connection to %s closed", ev.addr)
				delete(sub.connections, ev.addr)
				sub.pubList = setDifference(sub.pubList, []string{ev.addr})
			}
		case <-sub.shutdownChan:
			for _, quit := range sub.connections {
				close(quit)
			}
			sub.readers.Wait()
			sub.logger.Debug("Subscriber goroutine exit")
			return
		}
	}
}

func (sub *subscriber) refreshPublishers() {
	ctx, cancel := sub.client.directoryContext()
	defer cancel()
	_, list, err := sub.client.lookupTopic(ctx, sub.topic)
	if err != nil {
		sub.logger.Debugf("lookupTopic failed: %v", err)
		return
	}
	deadPubs := setDifference(sub.pubList, list)
	newPubs := setDifference(list, sub.pubList)
	sub.pubList = list

	for _, pub := range deadPubs {
		if quit, ok := sub.connections[pub]; ok {
			close(quit)
			delete(sub.connections, pub)
		}
	}
	for _, pub := range newPubs {
		quit := make(chan struct{})
		sub.connections[pub] = quit
		sub.readers.Add(1)
		go sub.readPublisher(pub, quit)
	}
}

// readPublisher connects to one publisher and forwards its frames to msgChan
// until the connection drops or quit is closed.
func (sub *subscriber) readPublisher(pubAddr string, quit chan struct{}) {
	defer sub.readers.Done()
	logger := sub.logger.WithField("publisher", pubAddr)

	reportDisconnect := func() {
		select {
		case sub.disconnectedChan <- disconnectEvent{pubAddr, quit}:
		case <-quit:
		}
	}

	conn, err := net.DialTimeout("tcp", pubAddr, sub.client.opts.dialTimeout)
	if err != nil {
		logger.Debugf("Failed to connect: %v", err)
		reportDisconnect()
		return
	}
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-quit:
		case <-stopped:
		}
		conn.Close()
	}()

	typeName, err := sub.handshake(conn)
	if err != nil {
		logger.Warnf("Handshake failed: %v", err)
		reportDisconnect()
		return
	}
	logger.Debugf("Receiving %s", typeName)

	for {
		body, err := readBlock(conn)
		if err != nil {
			select {
			case <-quit:
			default:
				logger.Debugf("Failed to read a frame: %v", err)
				reportDisconnect()
			}
			return
		}
		typeTag, payload, err := decodeTopicFrame(body)
		if err != nil {
			logger.Warnf("Dropping malformed frame: %v", err)
			continue
		}
		select {
		case sub.msgChan <- messageEvent{typeTag: typeTag, payload: payload, publisher: pubAddr}:
		case <-quit:
			return
		}
	}
}

func (sub *subscriber) handshake(conn net.Conn) (string, error) {
	_ = conn.SetDeadline(time.Now().Add(sub.client.opts.dialTimeout))
	headers := []header{
		{"topic", sub.topic},
		{"type", "*"},
		{"callerid", sub.client.callerID},
	}
	if err := writeConnectionHeader(headers, conn); err != nil {
		return "", errors.Wrap(err, "write connection header")
	}
	resHeaders, err := readConnectionHeader(conn)
	if err != nil {
		return "", errors.Wrap(err, "read response header")
	}
	res := headerMap(resHeaders)
	if msg, ok := res["error"]; ok {
		return "", errors.New(msg)
	}
	if res["topic"] != sub.topic {
		return "", errors.Errorf("publisher answered for topic %q", res["topic"])
	}
	_ = conn.SetDeadline(time.Time{})
	return res["type"], nil
}

// Shutdown stops delivery and waits for the subscription goroutine.
func (sub *subscriber) Shutdown() {
	sub.shutdownOnce.Do(func() {
		close(sub.shutdownChan)
	})
	<-sub.doneChan
}
