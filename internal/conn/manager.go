// Package conn owns channel lifecycle: dialing with exponential backoff,
// background health probing, and serialized reconnection with a bounded
// attempt budget.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/transport"
)

// ErrNotConnected is returned by Current when no channel is established.
var ErrNotConnected = errors.New("not connected")

// ErrClosed is returned once the manager has been shut down.
var ErrClosed = errors.New("connection manager closed")

// ConnectionLostError is terminal: the reconnect attempt budget was
// exhausted without restoring a channel.
type ConnectionLostError struct {
	Attempts int
	Err      error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("connection lost after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectionLostError) Unwrap() error { return e.Err }

// Config carries the immutable connection settings. It is supplied at
// construction by the surrounding application.
type Config struct {
	Address       string
	DialTimeout   time.Duration // per dial attempt
	ProbeInterval time.Duration
	MaxAttempts   int           // attempt budget per connect/reconnect cycle
	BaseDelay     time.Duration // initial backoff delay
	MaxDelay      time.Duration // backoff ceiling
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 15 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	return c
}

// ProbeFunc is the lightweight health check run against the current channel.
// The session layer injects a heartbeat here so the probe can carry the
// session id without this package knowing about sessions.
type ProbeFunc func(ctx context.Context, t transport.Transport) error

// Hooks let the session layer observe channel state changes driven by the
// background probe loop.
type Hooks struct {
	// OnDegraded fires when the probe detects a dead channel, before any
	// reconnect attempt.
	OnDegraded func(err error)
	// OnRestored fires after a reconnect succeeds, with the new channel
	// already installed as current.
	OnRestored func(ctx context.Context, t transport.Transport)
	// OnLost fires once when the attempt budget is exhausted. The manager
	// stops probing afterwards.
	OnLost func(err error)
}

// Manager owns at most one live channel at a time.
type Manager struct {
	cfg    Config
	dialer transport.Dialer

	mu      sync.Mutex
	current transport.Transport
	closed  bool

	flight singleflight.Group
	probe  ProbeFunc
	hooks  Hooks
}

// NewManager creates a manager for the given dialer and settings.
func NewManager(dialer transport.Dialer, cfg Config) *Manager {
	return &Manager{cfg: cfg.withDefaults(), dialer: dialer}
}

// SetProbe installs the health probe. Must be called before Run.
func (m *Manager) SetProbe(fn ProbeFunc) { m.probe = fn }

// SetHooks installs the state-change hooks. Must be called before Run.
func (m *Manager) SetHooks(h Hooks) { m.hooks = h }

// Connect establishes the initial channel, retrying with backoff up to the
// attempt budget. It returns a ConnectError when the budget is exhausted.
func (m *Manager) Connect(ctx context.Context) (transport.Transport, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.current != nil {
		t := m.current
		m.mu.Unlock()
		return t, nil
	}
	m.mu.Unlock()

	t, err := m.dialLoop(ctx)
	if err != nil {
		return nil, err
	}
	m.install(t)
	return t, nil
}

// Current returns the live channel, or ErrNotConnected.
func (m *Manager) Current() (transport.Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.current == nil {
		return nil, ErrNotConnected
	}
	return m.current, nil
}

// Healthy reports whether a channel is currently established.
func (m *Manager) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && !m.closed
}

// Disconnect tears down the channel and marks the manager closed. Further
// Connect/Reconnect calls fail with ErrClosed.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	t := m.current
	m.current = nil
	m.closed = true
	m.mu.Unlock()
	if t != nil {
		_ = t.Close()
	}
}

// Reconnect tears down the current channel and dials a fresh one with
// backoff. Concurrent callers share a single in-flight attempt; nobody
// starts a duplicate. Exhausting the budget yields a ConnectionLostError.
func (m *Manager) Reconnect(ctx context.Context) (transport.Transport, error) {
	v, err, _ := m.flight.Do("reconnect", func() (any, error) {
		m.teardown()

		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		t, err := m.dialLoop(ctx)
		if err != nil {
			return nil, &ConnectionLostError{Attempts: m.cfg.MaxAttempts, Err: err}
		}
		m.install(t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(transport.Transport), nil
}

// Run drives the background health probe until ctx is cancelled or the
// connection is terminally lost. Probe failures that are not
// connection-class are ignored here; the probe itself is expected to deal
// with application-level outcomes.
func (m *Manager) Run(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	if m.probe == nil {
		logger.Warn("Probe loop not started: no probe installed")
		return
	}

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		t, err := m.Current()
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			continue
		}

		if err := m.probe(ctx, t); err != nil && transport.IsConnectionError(err) {
			logger.Warn("Health probe failed, channel presumed dead", "error", err)
			if m.hooks.OnDegraded != nil {
				m.hooks.OnDegraded(err)
			}

			nt, rerr := m.Reconnect(ctx)
			if rerr != nil {
				var lost *ConnectionLostError
				if errors.As(rerr, &lost) && m.hooks.OnLost != nil {
					m.hooks.OnLost(lost)
				}
				logger.Error("Reconnection failed, probe loop stopping", "error", rerr)
				return
			}

			logger.Info("Channel restored")
			if m.hooks.OnRestored != nil {
				m.hooks.OnRestored(ctx, nt)
			}
		}
	}
}

func (m *Manager) install(t transport.Transport) {
	m.mu.Lock()
	m.current = t
	m.mu.Unlock()
}

func (m *Manager) teardown() {
	m.mu.Lock()
	t := m.current
	m.current = nil
	m.mu.Unlock()
	if t != nil {
		_ = t.Close()
	}
}

// dialLoop dials with exponential backoff and jitter until it succeeds, the
// attempt budget runs out, or ctx is cancelled.
func (m *Manager) dialLoop(ctx context.Context) (transport.Transport, error) {
	logger := ctxlog.FromContext(ctx)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.BaseDelay
	bo.MaxInterval = m.cfg.MaxDelay
	bo.MaxElapsedTime = 0

	var t transport.Transport
	attempt := 0
	op := func() error {
		attempt++
		logger.Debug("Dialing engine", "address", m.cfg.Address, "attempt", attempt, "budget", m.cfg.MaxAttempts)

		dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
		defer cancel()

		var err error
		t, err = m.dialer.Dial(dialCtx, m.cfg.Address)
		if err != nil {
			logger.Warn("Dial attempt failed", "attempt", attempt, "error", err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(m.cfg.MaxAttempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return t, nil
}
