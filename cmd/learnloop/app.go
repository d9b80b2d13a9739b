package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/learnloop/internal/config"
	"github.com/fyrsmithlabs/learnloop/internal/embeddings"
	"github.com/fyrsmithlabs/learnloop/internal/graphstore"
	"github.com/fyrsmithlabs/learnloop/internal/learning"
	"github.com/fyrsmithlabs/learnloop/internal/logging"
	"github.com/fyrsmithlabs/learnloop/internal/telemetry"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
)

// app holds what every command needs: configuration, logging, telemetry and
// the graph store. Close releases them in reverse order.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry
	store  *graphstore.Store

	closers []func() error
}

func newApp(ctx context.Context, path string) (*app, error) {
	cfg, err := config.LoadWithFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	a := &app{cfg: cfg}

	bootstrap := zap.NewNop()
	a.tel, err = telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version), bootstrap)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error { return a.tel.Shutdown(context.Background()) })

	logCfg, err := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid logging settings: %w", err)
	}
	if a.tel.IsEnabled() {
		logCfg.Output.OTEL = true
		a.logger, err = logging.NewLogger(logCfg, global.GetLoggerProvider())
	} else {
		a.logger, err = logging.NewLogger(logCfg, nil)
	}
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	a.closers = append(a.closers, func() error { _ = a.logger.Sync(); return nil })

	a.store, err = openStore(ctx, cfg, a.logger.Underlying())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)
	return a, nil
}

// Close releases resources in reverse acquisition order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openStore opens the graph arena with the configured vector backend. The
// memory index dimension follows the configured embedding model.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*graphstore.Store, error) {
	var (
		vec graphstore.VectorIndex
		err error
	)
	switch cfg.Vector.Provider {
	case "qdrant":
		vec, err = graphstore.NewQdrantIndex(graphstore.QdrantConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			UseTLS: cfg.Qdrant.UseTLS,
		}, logger)
	default:
		path := ""
		if !cfg.Graph.InMemory {
			if path, err = config.ExpandPath(cfg.Vector.Path); err != nil {
				return nil, err
			}
		}
		vec, err = graphstore.NewChromemIndex(path, cfg.Vector.Compress)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s vector index: %w", cfg.Vector.Provider, err)
	}

	graphPath, err := config.ExpandPath(cfg.Graph.Path)
	if err != nil {
		_ = vec.Close()
		return nil, err
	}
	store, err := graphstore.Open(ctx, graphstore.Options{
		Path:       graphPath,
		InMemory:   cfg.Graph.InMemory,
		SyncWrites: cfg.Graph.SyncWrites,
		Vector:     vec,
		Indexes:    []graphstore.IndexSpec{learning.MemoryIndexSpec(embeddings.DimensionForModel(cfg.Embeddings.Model))},
		Logger:     logger,
	})
	if err != nil {
		_ = vec.Close()
		return nil, fmt.Errorf("opening graph store: %w", err)
	}
	return store, nil
}
