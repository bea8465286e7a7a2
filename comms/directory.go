package comms

import (
	"context"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/edwinhayes/mvsimgo/xmlrpc"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// APIStatusError is an API call which returned an error
	APIStatusError = -1
	// APIStatusFailure is a failed API call
	APIStatusFailure = 0
	// APIStatusSuccess is a successful API call
	APIStatusSuccess = 1

	// DefaultAddress is where the simulator serves its directory.
	DefaultAddress = "http://127.0.0.1:23700"
)

// callDirectory performs an XML-RPC call on the directory and unpacks the
// (code, message, value) triplet. A non-success code becomes an
// *APIError.
func callDirectory(ctx context.Context, client *xmlrpc.Client, method string, args ...interface{}) (interface{}, error) {
	result, err := client.Call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	xs, ok := result.([]interface{})
	if !ok {
		return nil, errors.New("malformed directory result")
	}
	if len(xs) != 3 {
		return nil, errors.Errorf("malformed directory result: length must be 3 but is %d", len(xs))
	}
	code, ok := xs[0].(int32)
	if !ok {
		return nil, errors.New("status code is not int")
	}
	message, ok := xs[1].(string)
	if !ok {
		return nil, errors.New("message is not string")
	}
	if code != APIStatusSuccess {
		return nil, &APIError{Method: method, Code: code, Message: message}
	}
	return xs[2], nil
}

// APIError is a directory call answered with a non-success code.
type APIError struct {
	Method  string
	Code    int32
	Message string
}

func (e *APIError) Error() string {
	return "directory " + e.Method + " failed: " + e.Message
}

func buildResult(code int32, message string, value interface{}) interface{} {
	return []interface{}{code, message, value}
}

type topicEntry struct {
	typeName   string
	publishers map[string]string // addr -> caller id
}

type serviceEntry struct {
	addr   string
	caller string
}

// Directory is the bus name service. It maps topics to their publishers and
// services to the single server answering them.
type Directory struct {
	mu       sync.RWMutex
	topics   map[string]*topicEntry
	services map[string]serviceEntry
	nodes    map[string]time.Time
	logger   *logrus.Entry
	handler  *xmlrpc.Handler
}

// NewDirectory creates an empty directory. A nil logger uses DefaultLogger.
func NewDirectory(log *logrus.Logger) *Directory {
	if log == nil {
		log = DefaultLogger()
	}
	d := &Directory{
		topics:   make(map[string]*topicEntry),
		services: make(map[string]serviceEntry),
		nodes:    make(map[string]time.Time),
		logger:   log.WithField("component", "directory"),
	}
	d.handler = xmlrpc.NewHandler(map[string]xmlrpc.Method{
		"ping":                d.ping,
		"registerPublisher":   d.registerPublisher,
		"unregisterPublisher": d.unregisterPublisher,
		"registerService":     d.registerService,
		"unregisterService":   d.unregisterService,
		"lookupTopic":         d.lookupTopic,
		"lookupService":       d.lookupService,
		"listTopics":          d.listTopics,
		"listNodes":           d.listNodes,
	})
	return d
}

func (d *Directory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.handler.ServeHTTP(w, r)
}

// ServeDirectory serves d on listener until ctx is done.
func ServeDirectory(ctx context.Context, listener net.Listener, d *Directory) error {
	server := &http.Server{Handler: d, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(listener)
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		d.handler.WaitForShutdown()
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (d *Directory) touch(caller string) {
	d.nodes[caller] = time.Now()
}

func (d *Directory) ping(caller string) (interface{}, error) {
	d.mu.Lock()
	d.touch(caller)
	d.mu.Unlock()
	return buildResult(APIStatusSuccess, "pong", 0), nil
}

func (d *Directory) registerPublisher(caller, topic, typeName, addr string) (interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.touch(caller)
	entry, ok := d.topics[topic]
	if !ok {
		entry = &topicEntry{typeName: typeName, publishers: make(map[string]string)}
		d.topics[topic] = entry
	} else if entry.typeName != typeName && len(entry.publishers) > 0 {
		return buildResult(APIStatusFailure, "topic "+topic+" already has type "+entry.typeName, 0), nil
	}
	entry.typeName = typeName
	entry.publishers[addr] = caller
	d.logger.Debugf("registered publisher %s for %s [%s]", addr, topic, typeName)
	return buildResult(APIStatusSuccess, "Success", 0), nil
}

func (d *Directory) unregisterPublisher(caller, topic, addr string) (interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.topics[topic]
	if !ok {
		return buildResult(APIStatusSuccess, "No such topic", 0), nil
	}
	delete(entry.publishers, addr)
	if len(entry.publishers) == 0 {
		delete(d.topics, topic)
	}
	return buildResult(APIStatusSuccess, "Success", 1), nil
}

func (d *Directory) registerService(caller, service, addr string) (interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.touch(caller)
	d.services[service] = serviceEntry{addr: addr, caller: caller}
	d.logger.Debugf("registered service %s at %s", service, addr)
	return buildResult(APIStatusSuccess, "Success", 0), nil
}

func (d *Directory) unregisterService(caller, service, addr string) (interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if entry, ok := d.services[service]; ok && entry.addr == addr {
		delete(d.services, service)
		return buildResult(APIStatusSuccess, "Success", 1), nil
	}
	return buildResult(APIStatusSuccess, "No such service", 0), nil
}

func (d *Directory) lookupTopic(caller, topic string) (interface{}, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.topics[topic]
	if !ok {
		return buildResult(APIStatusSuccess, "No publishers", []interface{}{"", []string{}}), nil
	}
	addrs := make([]string, 0, len(entry.publishers))
	for addr := range entry.publishers {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return buildResult(APIStatusSuccess, "Success", []interface{}{entry.typeName, addrs}), nil
}

func (d *Directory) lookupService(caller, service string) (interface{}, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.services[service]
	if !ok {
		return buildResult(APIStatusFailure, "no provider for service "+service, ""), nil
	}
	return buildResult(APIStatusSuccess, "Success", entry.addr), nil
}

func (d *Directory) listTopics(caller string) (interface{}, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.topics))
	for name := range d.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	result := make([]interface{}, 0, len(names))
	for _, name := range names {
		result = append(result, []interface{}{name, d.topics[name].typeName})
	}
	return buildResult(APIStatusSuccess, "Success", result), nil
}

func (d *Directory) listNodes(caller string) (interface{}, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.nodes))
	for name := range d.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return buildResult(APIStatusSuccess, "Success", names), nil
}
