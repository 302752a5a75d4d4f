// Package socketio implements the transport contract over a socket.io
// websocket channel. Requests are emitted as "rpc" events carrying a
// correlation id; the engine replies on a per-request "rpc:<id>" event.
package socketio

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/transport"
)

// Dialer opens socket.io channels to engine addresses.
type Dialer struct {
	// Namespace is the socket.io namespace to join. Empty means the root
	// namespace.
	Namespace string

	// ConnectTimeout bounds the initial websocket handshake. Zero means a
	// 15s default.
	ConnectTimeout time.Duration

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, address string) (transport.Transport, error) {
	logger := ctxlog.FromContext(ctx).With("transport", "socketio", "address", address)
	logger.Debug("Dialing engine...")

	parsedURL, err := url.Parse(address)
	if err != nil {
		return nil, &transport.ConnectError{Address: address, Err: err}
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if d.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(d.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Channel established", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err, _ := errs[0].(error)
		if err == nil {
			err = fmt.Errorf("connect_error: %v", errs[0])
		}
		connectChan <- err
	})

	io.Connect()

	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, &transport.ConnectError{Address: address, Err: err}
		}
		return &channel{io: io}, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, &transport.ConnectError{Address: address, Err: ctx.Err()}
	case <-time.After(timeout):
		io.Disconnect()
		return nil, &transport.ConnectError{Address: address, Err: fmt.Errorf("timed out after %v waiting for connection", timeout)}
	}
}

// channel is one established socket.io connection.
type channel struct {
	io *socket.Socket
}

// rpcEnvelope is the request frame emitted on the "rpc" event.
type rpcEnvelope struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// rpcReply is the response frame the engine sends on "rpc:<id>".
type rpcReply struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcReplyError  `json:"error,omitempty"`
}

type rpcReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Call implements transport.Transport.
func (c *channel) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if !c.io.Connected() {
		return nil, &transport.RpcError{Method: method, Code: transport.CodeDisconnected, Class: transport.ClassConnection}
	}

	id := uuid.NewString()
	replyEvent := types.EventName("rpc:" + id)
	done := make(chan rpcReply, 1)

	c.io.Once(replyEvent, func(data ...any) {
		var reply rpcReply
		if len(data) > 0 {
			// The socket.io parser hands us decoded JSON; re-encode the
			// frame so it can be unmarshalled into the typed reply.
			raw, err := json.Marshal(data[0])
			if err == nil {
				_ = json.Unmarshal(raw, &reply)
			}
		}
		done <- reply
	})
	defer c.io.RemoveAllListeners(replyEvent)

	envelope := rpcEnvelope{ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params for %s: %w", method, err)
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, fmt.Errorf("marshal params for %s: %w", method, err)
		}
		envelope.Params = generic
	}
	c.io.Emit("rpc", envelope)

	opCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-opCtx.Done():
		code := transport.CodeTimeout
		if ctx.Err() != nil {
			code = transport.CodeCancelled
		}
		return nil, &transport.RpcError{Method: method, Code: code, Message: opCtx.Err().Error(), Class: transport.ClassConnection}
	case reply := <-done:
		if reply.Error != nil {
			return nil, &transport.RpcError{
				Method:  method,
				Code:    reply.Error.Code,
				Message: reply.Error.Message,
				Class:   transport.ClassApplication,
			}
		}
		return reply.Result, nil
	}
}

// Close implements transport.Transport.
func (c *channel) Close() error {
	c.io.Disconnect()
	return nil
}
