package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/patchlab-ai/patchlab-go/internal/api"
	"github.com/patchlab-ai/patchlab-go/internal/artifacts"
	"github.com/patchlab-ai/patchlab-go/internal/dataset"
	"github.com/patchlab-ai/patchlab-go/internal/ledger"
	"github.com/patchlab-ai/patchlab-go/internal/pipeline"
	"github.com/patchlab-ai/patchlab-go/internal/platform/httpserver"
	"github.com/patchlab-ai/patchlab-go/internal/platform/postgres"
	"github.com/patchlab-ai/patchlab-go/internal/registry"
	"github.com/patchlab-ai/patchlab-go/internal/stages"
	"github.com/patchlab-ai/patchlab-go/internal/storage/objectstore"
)

const serviceName = "patchlab"

func newServeCmd(logger *slog.Logger, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, logger, cfg)
		},
	}
}

func serve(ctx context.Context, logger *slog.Logger, cfg config) error {
	var store objectstore.Store
	var runLedger ledger.RunLedger
	var checks []httpserver.ReadinessCheck
	bucket := cfg.Bucket

	switch cfg.Backend {
	case "postgres":
		pgCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			return err
		}
		db, err := postgres.Open(ctx, pgCfg)
		if err != nil {
			return err
		}
		defer db.Close()
		pgLedger := ledger.NewPostgresLedger(db)
		if err := pgLedger.EnsureSchema(ctx); err != nil {
			return err
		}
		runLedger = pgLedger
		checks = append(checks, httpserver.ReadinessCheck{Name: "postgres", Check: db.PingContext})

		osCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			return err
		}
		minioStore, err := objectstore.NewMinioStore(osCfg)
		if err != nil {
			return err
		}
		if err := minioStore.EnsureBucket(ctx, osCfg.Bucket, osCfg.Region); err != nil {
			return err
		}
		store = minioStore
		bucket = osCfg.Bucket
		checks = append(checks, httpserver.ReadinessCheck{Name: "objectstore", Check: func(ctx context.Context) error {
			_, err := store.List(ctx, bucket, "readyz-probe/")
			return err
		}})
	default:
		runLedger = ledger.NewMemoryLedger()
		store = objectstore.NewMemoryStore()
		logger.Warn("using in-memory backend; runs and artifacts are lost on restart")
	}

	artifactStore, err := artifacts.NewStore(store, bucket)
	if err != nil {
		return err
	}
	models, err := registry.New(store, bucket)
	if err != nil {
		return err
	}
	resolver, err := dataset.New(runLedger, artifactStore)
	if err != nil {
		return err
	}
	runner, err := pipeline.NewRunner(stages.All(), runLedger, artifactStore, models, resolver, logger)
	if err != nil {
		return err
	}
	pipelineAPI, err := api.New(logger, runner, runLedger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	pipelineAPI.Register(mux)
	mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("GET /readyz", httpserver.Readyz(serviceName, checks...))

	return httpserver.Run(ctx, logger, httpserver.Config{
		Service: serviceName,
		Addr:    cfg.ListenAddr,
	}, httpserver.Wrap(logger, serviceName, mux))
}
