package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/pipeline"
	"github.com/opensource-finance/heron/internal/remote"
	"github.com/opensource-finance/heron/internal/scoring"
)

// activateConfigured switches the catalog's engine to the configured
// rule set. The built-in set is already active.
func activateConfigured(ctx context.Context, catalog *scoring.Catalog, version string) error {
	if version == "" || version == scoring.BuiltinVersion {
		return nil
	}
	if _, err := catalog.Activate(ctx, version); err != nil {
		return fmt.Errorf("activate rule set %s: %w", version, err)
	}
	return nil
}

// newPipeline builds the decision pipeline over engine, enabling the remote
// stage when an endpoint is configured.
func newPipeline(cfg domain.RemoteConfig, engine *scoring.Engine) (*pipeline.Pipeline, error) {
	var opts []pipeline.Option
	if cfg.Enabled() {
		client, err := remote.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithRemote(client))
		slog.Info("remote scorer enabled", "endpoint", client.Endpoint(), "timeout", cfg.Timeout)
	} else {
		slog.Info("remote scorer not configured, scoring locally")
	}
	return pipeline.New(engine, opts...), nil
}
