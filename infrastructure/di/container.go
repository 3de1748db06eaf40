// Package di wires the service together.
package di

import (
	"context"

	appassignments "classcast-backend/application/assignments"
	"classcast-backend/application/pipeline"
	"classcast-backend/infrastructure/config"
	"classcast-backend/infrastructure/persistence/kvstore"
	"classcast-backend/interfaces/http/rest"
	"classcast-backend/pkg/notify"
	"classcast-backend/pkg/observability"

	"go.uber.org/zap"
)

// Container holds all application dependencies
type Container struct {
	Config      *config.Config
	Logger      *zap.Logger
	Store       kvstore.Store
	Pipeline    *pipeline.Pipeline
	Assignments *appassignments.Service
	Hub         *notify.Hub
	Collector   *observability.Collector
	Tracing     *observability.TracerProvider
	Router      *rest.Router
}

// WatchConfig hot-reloads the YAML overlay, when one is configured, and
// pushes the new retry tuning into the pipeline. It returns nil when there is
// no file to watch.
func (c *Container) WatchConfig() (*config.Watcher, error) {
	if c.Config.ConfigFile == "" {
		return nil, nil
	}

	w, err := config.NewWatcher(c.Config.ConfigFile, c.Config, c.Logger)
	if err != nil {
		return nil, err
	}
	w.OnChange(func(cfg *config.Config) {
		if err := c.Pipeline.SetPolicies(cfg.PipelinePolicies()); err != nil {
			c.Logger.Error("Rejected reloaded retry tuning", zap.Error(err))
		}
	})
	return w, nil
}

// Shutdown waits for in-flight notifications, flushes spans and syncs the logger.
func (c *Container) Shutdown(ctx context.Context) {
	if err := c.Hub.Wait(ctx); err != nil {
		c.Logger.Warn("Notifications still in flight at shutdown", zap.Error(err))
	}
	if err := c.Tracing.Shutdown(ctx); err != nil {
		c.Logger.Error("Failed to shut down tracing", zap.Error(err))
	}
	_ = c.Logger.Sync()
}
