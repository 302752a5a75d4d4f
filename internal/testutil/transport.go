package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vk/pipegrid/internal/transport"
)

// Handler answers one scripted engine method.
type Handler func(params any) (json.RawMessage, error)

// FakeTransport is a scripted in-memory engine channel. Tests install a
// handler per method; unscripted methods fail with unknown_method.
type FakeTransport struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []string
	closed   bool
}

// NewFakeTransport returns an empty scripted transport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{handlers: make(map[string]Handler)}
}

// Handle installs the handler for a method, replacing any previous one.
func (f *FakeTransport) Handle(method string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

// HandleResult scripts a method to return a fixed JSON-encoded result.
func (f *FakeTransport) HandleResult(method string, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		panic(fmt.Sprintf("testutil: encode result for %s: %v", method, err))
	}
	f.Handle(method, func(any) (json.RawMessage, error) {
		return raw, nil
	})
}

// HandleError scripts a method to fail with an application-class RpcError.
func (f *FakeTransport) HandleError(method, code, message string) {
	f.Handle(method, func(any) (json.RawMessage, error) {
		return nil, &transport.RpcError{Method: method, Code: code, Message: message, Class: transport.ClassApplication}
	})
}

// Calls returns the methods invoked so far, in order.
func (f *FakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many times a method was invoked.
func (f *FakeTransport) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.calls {
		if m == method {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called.
func (f *FakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Call implements transport.Transport.
func (f *FakeTransport) Call(ctx context.Context, method string, params any, _ time.Duration) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, &transport.RpcError{Method: method, Code: transport.CodeCancelled, Message: err.Error(), Class: transport.ClassConnection}
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, &transport.RpcError{Method: method, Code: transport.CodeDisconnected, Class: transport.ClassConnection}
	}
	f.calls = append(f.calls, method)
	h, ok := f.handlers[method]
	f.mu.Unlock()

	if !ok {
		return nil, &transport.RpcError{Method: method, Code: transport.CodeUnknownMethod, Class: transport.ClassApplication}
	}
	return h(params)
}

// Close implements transport.Transport.
func (f *FakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// FakeDialer hands out FakeTransports, optionally failing the first few dial
// attempts to exercise backoff and reconnection paths.
type FakeDialer struct {
	mu        sync.Mutex
	failFirst int
	dials     int
	transport *FakeTransport
	// Setup runs on every transport handed out, letting tests script the
	// methods a freshly dialed channel must answer.
	Setup func(*FakeTransport)
}

// NewFakeDialer returns a dialer whose first failFirst attempts fail with a
// ConnectError.
func NewFakeDialer(failFirst int) *FakeDialer {
	return &FakeDialer{failFirst: failFirst}
}

// Dial implements transport.Dialer.
func (d *FakeDialer) Dial(ctx context.Context, address string) (transport.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, &transport.ConnectError{Address: address, Err: err}
	}

	d.mu.Lock()
	d.dials++
	n := d.dials
	d.mu.Unlock()

	if n <= d.failFirst {
		return nil, &transport.ConnectError{Address: address, Err: fmt.Errorf("simulated dial failure %d", n)}
	}

	t := NewFakeTransport()
	if d.Setup != nil {
		d.Setup(t)
	}
	d.mu.Lock()
	d.transport = t
	d.mu.Unlock()
	return t, nil
}

// Dials returns how many dial attempts were made.
func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Last returns the most recently dialed transport, or nil.
func (d *FakeDialer) Last() *FakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transport
}
