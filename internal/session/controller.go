// Package session maintains one remote engine session: it drives the
// connect/handshake/heartbeat lifecycle as an explicit state machine and
// publishes state changes to subscribers.
package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/vk/pipegrid/internal/conn"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/engine"
	"github.com/vk/pipegrid/internal/transport"
)

// subscriberBuffer bounds each notification channel; slow subscribers lose
// intermediate changes rather than blocking the controller.
const subscriberBuffer = 16

// Controller owns at most one engine session at a time.
type Controller struct {
	mgr    *conn.Manager
	client *engine.Client

	mu            sync.Mutex
	state         State
	sessionID     string
	createdAt     time.Time
	lastHeartbeat time.Time
	subs          []chan Change
	resetHooks    []func(context.Context)
	connectCancel context.CancelFunc
	probeCancel   context.CancelFunc
}

// NewController wires a controller onto a connection manager and engine
// client. Connect must be called before the controller is useful.
func NewController(mgr *conn.Manager, client *engine.Client) *Controller {
	return &Controller{mgr: mgr, client: client, state: Disconnected}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the current session token, or "" when none is held.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// LastHeartbeat returns the time of the last successful probe.
func (c *Controller) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// Subscribe returns a channel of state changes. The channel is buffered;
// when a subscriber lags, intermediate changes are dropped.
func (c *Controller) Subscribe() <-chan Change {
	ch := make(chan Change, subscriberBuffer)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

// OnSessionReset registers a hook that fires whenever the controller had to
// abandon a session id and open a fresh session. The catalog synchronizer
// registers its refresh here.
func (c *Controller) OnSessionReset(fn func(context.Context)) {
	c.mu.Lock()
	c.resetHooks = append(c.resetHooks, fn)
	c.mu.Unlock()
}

// Connect establishes the channel, performs the session handshake and starts
// the background probe loop. It is cancellable: Close during an in-flight
// Connect aborts the attempt and leaves the controller Closed.
func (c *Controller) Connect(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.connectCancel = cancel
	c.mu.Unlock()
	defer cancel()

	if !c.transition(Connecting, "") {
		return fmt.Errorf("connect not allowed from state %s", c.State())
	}

	if _, err := c.mgr.Connect(ctx); err != nil {
		c.transition(Disconnected, err.Error())
		return err
	}

	if !c.transition(Handshaking, "") {
		// Close raced us; the cancelled dial result is discarded.
		return ctx.Err()
	}

	info, err := c.client.CreateSession(ctx)
	if err != nil {
		c.transition(Disconnected, err.Error())
		return fmt.Errorf("session handshake: %w", err)
	}

	c.mu.Lock()
	c.sessionID = info.ID
	c.createdAt = time.Now()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()

	if !c.transition(Active, "session established") {
		return ctx.Err()
	}
	logger.Info("Session established", "session_id", info.ID)

	c.startProbe(ctx)
	return nil
}

// startProbe installs the heartbeat probe and lifecycle hooks on the
// connection manager and launches its loop. The probe context is detached
// from the connect context so the loop survives the caller's scope.
func (c *Controller) startProbe(ctx context.Context) {
	probeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.probeCancel = cancel
	c.mu.Unlock()

	c.mgr.SetProbe(c.probe)
	c.mgr.SetHooks(conn.Hooks{
		OnDegraded: func(err error) {
			c.transition(Degraded, err.Error())
		},
		OnRestored: func(ctx context.Context, _ transport.Transport) {
			c.resume(ctx)
		},
		OnLost: func(err error) {
			c.transition(Closed, err.Error())
		},
	})

	go c.mgr.Run(probeCtx)
}

// probe is the health check injected into the connection manager. A
// connection-class failure is returned so the manager tears the channel
// down; an expired session on a healthy channel is handled here by opening
// a fresh one.
func (c *Controller) probe(ctx context.Context, _ transport.Transport) error {
	id := c.SessionID()
	if id == "" {
		return nil
	}

	err := c.client.Heartbeat(ctx, id)
	switch {
	case err == nil:
		c.mu.Lock()
		c.lastHeartbeat = time.Now()
		c.mu.Unlock()
		return nil
	case transport.IsUnknownSession(err):
		// Channel is fine, session is not. Re-handshake in place.
		ctxlog.FromContext(ctx).Warn("Session expired, opening a fresh one")
		c.reset(ctx)
		return nil
	default:
		return err
	}
}

// resume runs after the manager restored the channel: try to resume the old
// session id, fall back to a fresh session when the engine no longer knows
// it.
func (c *Controller) resume(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	id := c.SessionID()

	if id != "" {
		if _, err := c.client.ResumeSession(ctx, id); err == nil {
			c.mu.Lock()
			c.lastHeartbeat = time.Now()
			c.mu.Unlock()
			c.transition(Active, "session resumed")
			logger.Info("Session resumed", "session_id", id)
			return
		} else if !transport.IsUnknownSession(err) {
			// Connection-class failure during resume: stay Degraded, the
			// probe loop will drive another reconnect.
			logger.Warn("Session resume failed", "error", err)
			return
		}
	}

	if c.reset(ctx) {
		c.transition(Active, "session reset")
	}
}

// reset discards the held session id and opens a fresh session, firing the
// reset hooks on success. Creating the new session implicitly invalidates
// the previous id.
func (c *Controller) reset(ctx context.Context) bool {
	logger := ctxlog.FromContext(ctx)

	info, err := c.client.CreateSession(ctx)
	if err != nil {
		logger.Warn("Fresh session handshake failed", "error", err)
		return false
	}

	c.mu.Lock()
	c.sessionID = info.ID
	c.createdAt = time.Now()
	c.lastHeartbeat = time.Now()
	hooks := slices.Clone(c.resetHooks)
	c.mu.Unlock()

	logger.Info("Session reset", "session_id", info.ID)
	for _, hook := range hooks {
		hook(ctx)
	}
	return true
}

// Close shuts the controller down from any state: cancels in-flight
// connect/probe work, best-effort closes the remote session, tears down the
// channel and lands in Closed. Idempotent.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Closed || c.state == Closing {
		c.mu.Unlock()
		return nil
	}
	connectCancel := c.connectCancel
	probeCancel := c.probeCancel
	id := c.sessionID
	c.mu.Unlock()

	c.transition(Closing, "")

	if connectCancel != nil {
		connectCancel()
	}
	if probeCancel != nil {
		probeCancel()
	}

	if id != "" && c.mgr.Healthy() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		if err := c.client.CloseSession(closeCtx, id); err != nil {
			ctxlog.FromContext(ctx).Debug("Remote session close failed", "error", err)
		}
		cancel()
	}

	c.mgr.Disconnect()

	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()

	c.transition(Closed, "")
	return nil
}

// transition applies a state change if the table allows it, notifying
// subscribers. Illegal transitions (e.g. a late result arriving after
// Close) are dropped and reported as false.
func (c *Controller) transition(to State, diagnostic string) bool {
	c.mu.Lock()
	if !canTransition(c.state, to) {
		c.mu.Unlock()
		return false
	}
	c.state = to
	subs := slices.Clone(c.subs)
	c.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- Change{State: to, Diagnostic: diagnostic}:
		default:
		}
	}
	return true
}
