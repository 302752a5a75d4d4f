package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// statusReport is the JSON document served by the /status endpoint.
type statusReport struct {
	State          string `json:"state"`
	SessionID      string `json:"session_id,omitempty"`
	LastHeartbeat  string `json:"last_heartbeat,omitempty"`
	CatalogVersion uint64 `json:"catalog_version"`
	CatalogTypes   int    `json:"catalog_types"`
}

// healthHandler answers liveness probes.
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// statusHandler reports session and catalog state for external tooling.
func (a *App) statusHandler(w http.ResponseWriter, r *http.Request) {
	snap := a.catalog.Snapshot()
	report := statusReport{
		State:          a.ctrl.State().String(),
		SessionID:      a.ctrl.SessionID(),
		CatalogVersion: snap.Version(),
		CatalogTypes:   snap.Len(),
	}
	if hb := a.ctrl.LastHeartbeat(); !hb.IsZero() {
		report.LastHeartbeat = hb.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		a.logger.Error("Status report encoding failed", "error", err)
	}
}

// startStatusServer initializes and runs the status HTTP server.
func (a *App) startStatusServer(port int) {
	a.logger.Debug("Configuring status server.")
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)
	mux.HandleFunc("/status", a.statusHandler)

	addr := fmt.Sprintf(":%d", port)
	a.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		a.logger.Info("Status server starting", "address", fmt.Sprintf("http://localhost%s/status", addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Status server failed unexpectedly", "error", err)
		}
	}()
}

func (a *App) closeStatusServer(ctx context.Context) {
	if a.httpServer == nil {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	a.logger.Debug("Shutting down status server...")
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Status server shutdown failed", "error", err)
	}
}
