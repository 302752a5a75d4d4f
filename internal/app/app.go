package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/vk/pipegrid/internal/catalog"
	"github.com/vk/pipegrid/internal/conn"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/engine"
	"github.com/vk/pipegrid/internal/session"
	"github.com/vk/pipegrid/internal/transport"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config

	mgr     *conn.Manager
	client  *engine.Client
	ctrl    *session.Controller
	catalog *catalog.Synchronizer

	httpServer *http.Server
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger, with the
// connection, session and catalog layers wired together.
func NewApp(outW io.Writer, cfg *Config, dialer transport.Dialer) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	mgr := conn.NewManager(dialer, conn.Config{
		Address:       cfg.ServerAddress,
		DialTimeout:   cfg.DialTimeout,
		ProbeInterval: cfg.ProbeInterval,
		MaxAttempts:   cfg.ReconnectAttempts,
	})
	client := engine.NewClient(mgr, cfg.CallTimeout)
	ctrl := session.NewController(mgr, client)

	a := &App{
		outW:   outW,
		logger: logger,
		config: cfg,
		mgr:    mgr,
		client: client,
		ctrl:   ctrl,
	}

	a.catalog = catalog.NewSynchronizer(a.fetchCatalog)
	// A reset session may belong to a restarted engine with different
	// plugins loaded, so the catalog is re-fetched after every reset.
	ctrl.OnSessionReset(func(ctx context.Context) {
		if _, err := a.catalog.Refresh(ctx); err != nil {
			ctxlog.FromContext(ctx).Warn("Catalog refresh after session reset failed", "error", err)
		}
	})

	logger.Debug("Application layers wired.", "address", cfg.ServerAddress)
	return a
}

// fetchCatalog is the catalog synchronizer's fetch function: list node types
// under whatever session the controller currently holds.
func (a *App) fetchCatalog(ctx context.Context) (json.RawMessage, error) {
	return a.client.ListNodeTypes(ctx, a.ctrl.SessionID())
}

// Session returns the session controller. This is primarily for testing.
func (a *App) Session() *session.Controller {
	return a.ctrl
}

// Catalog returns the catalog synchronizer. This is primarily for testing.
func (a *App) Catalog() *catalog.Synchronizer {
	return a.catalog
}
