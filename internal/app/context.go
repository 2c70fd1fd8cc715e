package app

import (
	"context"
	"errors"
	"fmt"

	"guardline/internal/config"
	"guardline/internal/repo"
)

// ResolveConfig loads the deployment config from the DB, seeding the default
// when none exists yet. A name override wins over the workspace YAML name.
func ResolveConfig(ctx context.Context, workspace, nameOverride string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetDeployConfig(ctx)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		cfg = seedConfig(workspace, nameOverride)
		if err := r.UpsertDeployConfig(ctx, cfg); err != nil {
			return nil, fmt.Errorf("seed deployment config: %w", err)
		}
	}
	if nameOverride != "" {
		cfg.Deployment.Name = nameOverride
	}
	return cfg, nil
}

// seedConfig prefers the workspace guardline.yml, falling back to defaults.
func seedConfig(workspace, name string) *config.Config {
	if name == "" {
		name = "guardline"
	}
	if cfg, err := config.Load(workspace); err == nil {
		return cfg
	}
	return config.Default(name)
}
