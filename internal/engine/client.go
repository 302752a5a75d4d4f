// Package engine provides a typed RPC client for the remote processing
// engine. It names the handful of methods the editor core needs and keeps
// everything below that behind the transport contract.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vk/pipegrid/internal/transport"
)

// TransportSource yields the channel a call should go out on. The connection
// manager implements this; it lets the client survive reconnects without
// holding a stale channel.
type TransportSource interface {
	Current() (transport.Transport, error)
}

// Client issues engine RPCs over whatever channel the source currently holds.
type Client struct {
	src     TransportSource
	timeout time.Duration
}

// NewClient returns a client whose individual calls are bounded by timeout.
func NewClient(src TransportSource, timeout time.Duration) *Client {
	return &Client{src: src, timeout: timeout}
}

// SessionInfo describes a session negotiated with the engine.
type SessionInfo struct {
	ID string `json:"session_id"`
}

// PluginReport summarizes a plugin manifest load.
type PluginReport struct {
	Loaded []string          `json:"loaded_plugins"`
	Failed map[string]string `json:"failed_plugins"`
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	t, err := c.src.Current()
	if err != nil {
		return err
	}
	raw, err := t.Call(ctx, method, params, c.timeout)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

// CreateSession opens a fresh session on the engine.
func (c *Client) CreateSession(ctx context.Context) (SessionInfo, error) {
	var info SessionInfo
	err := c.call(ctx, "session.create", nil, &info)
	return info, err
}

// ResumeSession asks the engine to re-adopt a previously issued session id.
// The engine answers with transport.CodeUnknownSession when the id has
// expired.
func (c *Client) ResumeSession(ctx context.Context, sessionID string) (SessionInfo, error) {
	var info SessionInfo
	err := c.call(ctx, "session.resume", map[string]string{"session_id": sessionID}, &info)
	return info, err
}

// Heartbeat is the lightweight liveness probe for an active session.
func (c *Client) Heartbeat(ctx context.Context, sessionID string) error {
	return c.call(ctx, "session.heartbeat", map[string]string{"session_id": sessionID}, nil)
}

// CloseSession releases the session on the engine.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	return c.call(ctx, "session.close", map[string]string{"session_id": sessionID}, nil)
}

// ListNodeTypes fetches the full node-type catalog in one call. The raw JSON
// is handed to the catalog package for decoding so the wire schema stays in
// one place.
func (c *Client) ListNodeTypes(ctx context.Context, sessionID string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.call(ctx, "catalog.list", map[string]string{"session_id": sessionID}, &raw)
	return raw, err
}

// LoadPlugins submits a plugin manifest (JSON-encoded) for the session.
func (c *Client) LoadPlugins(ctx context.Context, sessionID string, manifest json.RawMessage) (PluginReport, error) {
	var report PluginReport
	err := c.call(ctx, "plugins.load", map[string]any{
		"session_id": sessionID,
		"manifest":   manifest,
	}, &report)
	return report, err
}
