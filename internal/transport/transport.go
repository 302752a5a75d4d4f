// Package transport defines the narrow channel abstraction the core uses to
// talk to a remote processing engine. The wire encoding is deliberately
// opaque: callers see named methods, JSON payloads and a small error
// taxonomy, nothing else.
package transport

import (
	"context"
	"encoding/json"
	"time"
)

// Dialer opens a channel to a remote engine address.
type Dialer interface {
	Dial(ctx context.Context, address string) (Transport, error)
}

// Transport is a single established channel to the engine. A Transport is
// safe for concurrent calls; once Close returns, every in-flight and future
// call fails with a connection-class error.
type Transport interface {
	// Call performs one request/response exchange. The timeout applies to
	// this call only and is enforced in addition to ctx.
	Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)
	Close() error
}

// DialerFunc adapts a plain function to the Dialer interface.
type DialerFunc func(ctx context.Context, address string) (Transport, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, address string) (Transport, error) {
	return f(ctx, address)
}
