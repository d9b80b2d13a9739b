package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fyrsmithlabs/learnloop/internal/config"
	"github.com/fyrsmithlabs/learnloop/internal/embeddings"
	"github.com/fyrsmithlabs/learnloop/internal/events"
	httpserver "github.com/fyrsmithlabs/learnloop/internal/http"
	"github.com/fyrsmithlabs/learnloop/internal/judge"
	"github.com/fyrsmithlabs/learnloop/internal/learning"
	"github.com/fyrsmithlabs/learnloop/internal/logging"
	"github.com/fyrsmithlabs/learnloop/internal/pipeline"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var embeddedNATS bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, pipeline coordinator and Temporal worker",
		Long: `Start every long-running part of learnloop in one process:

  - the HTTP API (similar memories, interaction intake, dashboard reads)
  - the coordinator that turns bus events into Temporal workflows
  - a Temporal worker executing the evaluation and enrichment steps

Examples:
  # Against local NATS and Temporal
  JUDGE_API_KEY=sk-... learnloop serve

  # Single node development with an in-process NATS server
  learnloop serve --embedded-nats`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if cmd.Flags().Changed("embedded-nats") {
				a.cfg.NATS.Embedded = embeddedNATS
			}
			return serve(cmd.Context(), a)
		},
	}
	cmd.Flags().BoolVar(&embeddedNATS, "embedded-nats", false, "run a JetStream-enabled NATS server in process")
	return cmd
}

// serve wires the components and blocks until ctx is cancelled or one of
// the long-running parts fails.
func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	zl := a.logger.Underlying()

	a.logger.Info(ctx, "starting learnloop",
		zap.String("version", version),
		zap.String("http_addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.String("temporal", cfg.Temporal.HostPort),
		zap.String("task_queue", cfg.Temporal.TaskQueue),
		zap.String("vector_provider", cfg.Vector.Provider))

	embedder, err := embeddings.NewProvider(ctx, embeddings.ProviderConfig{
		Provider: cfg.Embeddings.Provider,
		Model:    cfg.Embeddings.Model,
		BaseURL:  cfg.Embeddings.BaseURL,
		CacheDir: cfg.Embeddings.CacheDir,
	}, zl)
	if err != nil {
		return fmt.Errorf("initializing embeddings: %w", err)
	}
	a.closers = append(a.closers, embedder.Close)
	if want := embeddings.DimensionForModel(cfg.Embeddings.Model); embedder.Dimension() != want {
		return fmt.Errorf("embedding dimension %d does not match memory index dimension %d", embedder.Dimension(), want)
	}

	grader, err := judge.New(judge.FromSettings(cfg.Judge), zl)
	if err != nil {
		return fmt.Errorf("initializing judge: %w", err)
	}
	a.logger.Info(ctx, "judge configured",
		zap.String("provider", cfg.Judge.Provider),
		zap.String("model", cfg.Judge.Model),
		logging.Secret("api_key", cfg.Judge.APIKey))

	bus, err := connectBus(ctx, a)
	if err != nil {
		return err
	}

	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    logging.NewTemporalAdapter(zl.Named("temporal")),
	})
	if err != nil {
		return fmt.Errorf("unable to create Temporal client: %w", err)
	}
	a.closers = append(a.closers, func() error { tc.Close(); return nil })

	acts, err := newActivities(a, embedder, grader, bus)
	if err != nil {
		return err
	}
	w, err := pipeline.NewWorker(tc, cfg.Temporal.TaskQueue, acts, worker.Options{})
	if err != nil {
		return err
	}
	coord, err := pipeline.NewCoordinator(tc, bus, pipeline.CoordinatorConfig{
		TaskQueue:   cfg.Temporal.TaskQueue,
		StepTimeout: cfg.Learning.StepTimeout.Duration(),
	}, acts.Metrics, zl)
	if err != nil {
		return err
	}

	retriever, err := learning.NewRetriever(a.store, embedder, zl)
	if err != nil {
		return err
	}
	dashboard, err := learning.NewDashboard(a.store)
	if err != nil {
		return err
	}
	srv, err := httpserver.NewServer(httpserver.Services{
		Retriever: retriever,
		Submitter: pipeline.NewPublisher(bus),
		Dashboard: dashboard,
	}, zl, httpserver.NewHTTPMetrics(a.tel.Meter("learnloop/http"), zl), &httpserver.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		RetrieveK:       cfg.Learning.RetrieveK,
		RetrieveTimeout: cfg.Learning.RetrieveTimeout.Duration(),
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := w.Start(); err != nil {
			return fmt.Errorf("temporal worker: %w", err)
		}
		a.logger.Info(gctx, "worker started", zap.String("task_queue", cfg.Temporal.TaskQueue))
		<-gctx.Done()
		w.Stop()
		return nil
	})
	g.Go(func() error {
		return coord.Run(gctx)
	})

	err = g.Wait()
	a.logger.Info(ctx, "learnloop stopped", zap.Error(err))
	return err
}

// connectBus connects to NATS, starting an embedded server first when
// configured, and returns the JetStream bus.
func connectBus(ctx context.Context, a *app) (events.Bus, error) {
	cfg := a.cfg
	url := cfg.NATS.URL
	if cfg.NATS.Embedded {
		dir, err := config.ExpandPath(cfg.NATS.StoreDir)
		if err != nil {
			return nil, err
		}
		ns, err := events.StartEmbedded(events.EmbeddedOptions{StoreDir: dir})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			ns.Shutdown()
			ns.WaitForShutdown()
			return nil
		})
		url = ns.ClientURL()
		a.logger.Info(ctx, "embedded nats started", zap.String("url", url), zap.String("store_dir", dir))
	}

	nc, err := nats.Connect(url,
		nats.Name("learnloop"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	a.closers = append(a.closers, func() error { nc.Close(); return nil })

	bus, err := events.NewJetStreamBus(nc, events.FromSettings(cfg.NATS), a.logger.Underlying())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, bus.Close)
	return bus, nil
}

// newActivities builds the pipeline steps over the shared graph store.
func newActivities(a *app, embedder learning.Embedder, grader judge.Client, bus events.Bus) (*pipeline.Activities, error) {
	zl := a.logger.Underlying()
	evaluator, err := learning.NewEvaluator(grader, zl)
	if err != nil {
		return nil, err
	}
	writer, err := learning.NewMemoryWriter(a.store, embedder, zl)
	if err != nil {
		return nil, err
	}
	patterns, err := learning.NewPatternExtractor(a.store, zl)
	if err != nil {
		return nil, err
	}
	linker, err := learning.NewSimilarityLinker(a.store, zl)
	if err != nil {
		return nil, err
	}
	stats, err := learning.NewStatsAggregator(a.store, zl)
	if err != nil {
		return nil, err
	}
	return &pipeline.Activities{
		Evaluator: evaluator,
		Writer:    writer,
		Patterns:  patterns,
		Linker:    linker,
		Stats:     stats,
		Bus:       bus,
		Metrics:   pipeline.NewMetrics(a.tel.Meter("learnloop/pipeline"), zl),
		Logger:    zl,
	}, nil
}
