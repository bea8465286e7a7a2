// Package comms is a client for the simulator's messaging bus.
//
// A Client talks to a directory (an XML-RPC name service at a well-known
// address) to find where topics are published and where services are
// served, then opens direct TCP connections to those endpoints. Topic data
// and service replies travel on separate connections, so a service call is
// never queued behind topic delivery.
//
// The same Client can advertise topics and services, which is how the
// simulator side of the bus is built.
package comms

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/edwinhayes/mvsimgo/xmlrpc"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// Handler receives every message published on a subscribed topic. It runs
// on the subscription's delivery goroutine; a handler that blocks stalls
// further delivery on its topic.
type Handler func(typeTag string, payload []byte)

// TopicInfo describes an advertised topic.
type TopicInfo struct {
	Name     string
	TypeName string
}

// Client is a session with the bus directory plus every subscription,
// publisher and service server created through it.
type Client struct {
	address   string
	callerID  string
	opts      options
	directory *xmlrpc.Client
	logger    *logrus.Entry
	endpoints *lru.Cache[string, string]

	mu          sync.Mutex
	subscribers map[string]*subscriber
	publishers  map[string]*Publisher
	servers     map[string]*serviceServer

	closed    atomic.Bool
	waitGroup sync.WaitGroup
}

func normalizeAddress(address string) string {
	if address == "" {
		return DefaultAddress
	}
	if !strings.Contains(address, "://") {
		return "http://" + address
	}
	return address
}

func newCallerID() string {
	return "/mvsim_go_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Connect opens a session with the directory at address, retrying a ping
// until it answers. It fails with an error matching ErrConnection once the
// retry budget is spent, and returns early if ctx ends.
func Connect(ctx context.Context, address string, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = DefaultLogger()
	}
	if o.callerID == "" {
		o.callerID = newCallerID()
	}
	cache, err := lru.New[string, string](o.endpointCache)
	if err != nil {
		return nil, err
	}

	c := &Client{
		address:     normalizeAddress(address),
		callerID:    o.callerID,
		opts:        o,
		endpoints:   cache,
		subscribers: make(map[string]*subscriber),
		publishers:  make(map[string]*Publisher),
		servers:     make(map[string]*serviceServer),
	}
	c.directory = xmlrpc.NewClient(c.address, o.directoryTimeout)
	c.logger = o.logger.WithField("caller", c.callerID)

	c.logger.Debugf("Connecting to %s", c.address)
	var lastErr error
	for attempt := 1; attempt <= o.connectAttempts; attempt++ {
		if _, lastErr = callDirectory(ctx, c.directory, "ping", c.callerID); lastErr == nil {
			c.logger.Debugf("Connected to %s after %d attempt(s)", c.address, attempt)
			return c, nil
		}
		if attempt == o.connectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ErrConnection, "%s: %v", c.address, ctx.Err())
		case <-time.After(o.connectInterval):
		}
	}
	return nil, errors.Wrapf(ErrConnection, "%s after %d attempts: %v", c.address, o.connectAttempts, lastErr)
}

// CallerID is the name this client registers with the directory.
func (c *Client) CallerID() string {
	return c.callerID
}

// Address is the directory URL.
func (c *Client) Address() string {
	return c.address
}

// Logger returns the client's log entry.
func (c *Client) Logger() *logrus.Entry {
	return c.logger
}

func (c *Client) directoryContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.opts.directoryTimeout)
}

// ListTopics returns every topic known to the directory.
func (c *Client) ListTopics() ([]TopicInfo, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	ctx, cancel := c.directoryContext()
	defer cancel()
	result, err := callDirectory(ctx, c.directory, "listTopics", c.callerID)
	if err != nil {
		return nil, classify(err, "listTopics")
	}
	list, ok := result.([]interface{})
	if !ok {
		return nil, errors.New("listTopics result is not a list")
	}
	topics := make([]TopicInfo, 0, len(list))
	for _, item := range list {
		pair, ok := item.([]interface{})
		if !ok || len(pair) != 2 {
			return nil, errors.New("listTopics entry is not a pair")
		}
		name, _ := pair[0].(string)
		typeName, _ := pair[1].(string)
		topics = append(topics, TopicInfo{Name: name, TypeName: typeName})
	}
	return topics, nil
}

// ListNodes returns the caller ids the directory has seen.
func (c *Client) ListNodes() ([]string, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	ctx, cancel := c.directoryContext()
	defer cancel()
	result, err := callDirectory(ctx, c.directory, "listNodes", c.callerID)
	if err != nil {
		return nil, classify(err, "listNodes")
	}
	return toStrings(result)
}

func toStrings(value interface{}) ([]string, error) {
	list, ok := value.([]interface{})
	if !ok {
		return nil, errors.Errorf("expected a list, got %T", value)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, errors.Errorf("expected a string, got %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}

// lookupTopic returns the topic's type name and publisher addresses.
func (c *Client) lookupTopic(ctx context.Context, topic string) (string, []string, error) {
	result, err := callDirectory(ctx, c.directory, "lookupTopic", c.callerID, topic)
	if err != nil {
		return "", nil, err
	}
	pair, ok := result.([]interface{})
	if !ok || len(pair) != 2 {
		return "", nil, errors.New("lookupTopic result is not a pair")
	}
	typeName, _ := pair[0].(string)
	addrs, err := toStrings(pair[1])
	if err != nil {
		return "", nil, err
	}
	return typeName, addrs, nil
}

func (c *Client) lookupService(ctx context.Context, service string) (string, error) {
	if addr, ok := c.endpoints.Get(service); ok {
		return addr, nil
	}
	result, err := callDirectory(ctx, c.directory, "lookupService", c.callerID, service)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return "", errors.Wrapf(ErrNoSuchService, "%s: %s", service, apiErr.Message)
		}
		return "", classify(err, "lookupService %s", service)
	}
	addr, ok := result.(string)
	if !ok || addr == "" {
		return "", errors.Wrapf(ErrNoSuchService, "%s: empty address", service)
	}
	c.endpoints.Add(service, addr)
	return addr, nil
}

// Subscribe registers handler for topic. A topic can have only one handler
// per client; a second Subscribe on the same name fails with
// ErrDuplicateSubscription and leaves the first in place. Delivery starts
// as soon as a publisher for the topic is found.
func (c *Client) Subscribe(topic string, handler Handler) error {
	if handler == nil {
		return errors.New("nil handler")
	}
	name, err := ResolveName(topic, true)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	if _, ok := c.subscribers[name]; ok {
		return errors.Wrapf(ErrDuplicateSubscription, "%s", name)
	}
	sub := newSubscriber(c, name, handler)
	c.subscribers[name] = sub
	c.waitGroup.Add(1)
	go sub.start(&c.waitGroup)
	c.logger.Debugf("Subscribed to %s", name)
	return nil
}

// Close shuts down every subscription, publisher and service server and
// waits for their goroutines. Calling Close again does nothing.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.logger.Debug("Closing client")
	c.mu.Lock()
	subs := c.subscribers
	pubs := c.publishers
	servers := c.servers
	c.subscribers = map[string]*subscriber{}
	c.publishers = map[string]*Publisher{}
	c.servers = map[string]*serviceServer{}
	c.mu.Unlock()

	var g errgroup.Group
	for _, s := range subs {
		s := s
		g.Go(func() error {
			s.Shutdown()
			return nil
		})
	}
	for _, p := range pubs {
		p := p
		g.Go(p.Shutdown)
	}
	for _, s := range servers {
		s := s
		g.Go(s.Shutdown)
	}
	err := g.Wait()
	c.waitGroup.Wait()
	c.logger.Debug("Client closed")
	return err
}
