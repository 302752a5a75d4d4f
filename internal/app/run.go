package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/pipegrid/internal/catalog"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/pipeline"
	"github.com/vk/pipegrid/internal/plugins"
)

// Run executes the main application flow: bring up a session (or load the
// offline cache), synchronize the catalog, then load, validate and
// optionally rewrite the pipeline file.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.config.StatusPort > 0 {
		a.startStatusServer(a.config.StatusPort)
		defer a.closeStatusServer(ctx)
	}

	if a.config.Offline {
		if err := a.loadCatalogCache(ctx); err != nil {
			return err
		}
	} else {
		if err := a.connect(ctx); err != nil {
			return err
		}
		defer func() {
			if err := a.ctrl.Close(ctx); err != nil {
				a.logger.Warn("Session close failed", "error", err)
			}
		}()
	}

	if a.config.PipelinePath == "" {
		a.logger.Info("No pipeline file given, nothing further to do.")
		return nil
	}

	doc, err := a.loadPipeline(ctx)
	if err != nil {
		return err
	}

	if a.config.WritePath != "" {
		if err := pipeline.SaveFile(a.config.WritePath, doc); err != nil {
			return err
		}
		a.logger.Info("Normalized pipeline written.", "path", a.config.WritePath)
	}

	a.logger.Debug("App.Run method finished.")
	return nil
}

// connect brings up the session and synchronizes the catalog against the
// live engine, refreshing the on-disk cache when one is configured.
func (a *App) connect(ctx context.Context) error {
	if err := a.ctrl.Connect(ctx); err != nil {
		return fmt.Errorf("failed to establish session: %w", err)
	}

	if _, err := a.catalog.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to fetch node type catalog: %w", err)
	}
	snap := a.catalog.Snapshot()
	a.logger.Info("Node type catalog synchronized.", "version", snap.Version(), "node_types", snap.Len())

	if a.config.CatalogCachePath != "" {
		if err := catalog.SaveCacheFile(a.config.CatalogCachePath, snap); err != nil {
			a.logger.Warn("Catalog cache not written", "error", err)
		} else {
			a.logger.Debug("Catalog cache written.", "path", a.config.CatalogCachePath)
		}
	}

	if a.config.PluginManifestPath != "" {
		manifest, err := plugins.LoadManifestFile(a.config.PluginManifestPath)
		if err != nil {
			return err
		}
		if _, err := plugins.Submit(ctx, a.client, a.ctrl.SessionID(), manifest); err != nil {
			return fmt.Errorf("failed to load plugins: %w", err)
		}
		// Engine-side plugins add node types, so the catalog is stale now.
		if _, err := a.catalog.Refresh(ctx); err != nil {
			a.logger.Warn("Catalog refresh after plugin load failed", "error", err)
		}
	}
	return nil
}

// loadCatalogCache installs the cached node-type list for offline
// validation.
func (a *App) loadCatalogCache(ctx context.Context) error {
	types, err := catalog.LoadCacheFile(a.config.CatalogCachePath)
	if err != nil {
		return err
	}
	version := a.catalog.Install(types)
	a.logger.Info("Offline catalog loaded from cache.", "version", version, "node_types", len(types),
		"path", a.config.CatalogCachePath)
	return nil
}

// loadPipeline loads and validates the pipeline file, printing every
// diagnostic the loader collected before failing.
func (a *App) loadPipeline(ctx context.Context) (*pipeline.Document, error) {
	doc, err := pipeline.LoadFile(ctx, a.config.PipelinePath, a.catalog)
	if err != nil {
		var loadErr *pipeline.LoadError
		if errors.As(err, &loadErr) {
			for _, d := range loadErr.Diags {
				fmt.Fprintf(a.outW, "%s\n", d)
			}
			return nil, fmt.Errorf("pipeline %s failed validation with %d error(s)", a.config.PipelinePath, len(loadErr.Diags))
		}
		return nil, err
	}

	doc.Graph.SetSchemaVersion(a.catalog.Snapshot().Version())
	a.logger.Info("Pipeline validated.",
		"path", a.config.PipelinePath,
		"nodes", doc.Graph.NodeCount(),
		"edges", doc.Graph.EdgeCount(),
		"catalog_version", doc.Graph.SchemaVersion(),
	)
	return doc, nil
}
