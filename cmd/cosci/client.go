package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cosci/cosci"
	"github.com/cosci/cosci/internal/config"
)

// newClient builds a cosci client from the loaded config. Tests replace it
// to point at an emulated backend.
var newClient = func(ctx context.Context) (*cosci.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if !logLevelFromFlag() {
		if l, err := config.ParseLevel(cfg.Log.Level); err == nil {
			logLevel.Set(l)
		}
	}

	client, err := cosci.New(ctx, cfg, cosci.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}
	return client, nil
}
