package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/across/internal/audit"
	"github.com/nextlevelbuilder/across/internal/auth"
	"github.com/nextlevelbuilder/across/internal/chat"
	"github.com/nextlevelbuilder/across/internal/chunk"
	"github.com/nextlevelbuilder/across/internal/config"
	"github.com/nextlevelbuilder/across/internal/embedding"
	httpapi "github.com/nextlevelbuilder/across/internal/http"
	"github.com/nextlevelbuilder/across/internal/ingest"
	"github.com/nextlevelbuilder/across/internal/logging"
	"github.com/nextlevelbuilder/across/internal/providers"
	"github.com/nextlevelbuilder/across/internal/quota"
	"github.com/nextlevelbuilder/across/internal/rag"
	"github.com/nextlevelbuilder/across/internal/store"
	"github.com/nextlevelbuilder/across/internal/store/pg"
	"github.com/nextlevelbuilder/across/internal/tracing"
	"github.com/nextlevelbuilder/across/internal/vault"
	"github.com/nextlevelbuilder/across/internal/vector"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	if err := serve(); err != nil {
		slog.Error("serve failed", "error", err)
		os.Exit(1)
	}
}

func serve() error {
	configPath := resolveConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	logging.Setup(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("tracing shutdown", "error", err)
		}
	}()

	stores, db, err := pg.NewPGStores(store.StoreConfig{
		PostgresDSN:   cfg.Database.PostgresDSN,
		EncryptionKey: cfg.Security.SecretKey,
		MaxOpen:       cfg.Database.MaxOpen,
		MaxIdle:       cfg.Database.MaxIdle,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	vectors, err := vector.NewMilvus(ctx, cfg.Vector.MilvusAddr)
	if err != nil {
		return fmt.Errorf("connect milvus: %w", err)
	}
	defer vectors.Close()

	chunker, err := chunk.NewChunker(chunk.DefaultChunkSize, chunk.DefaultOverlap)
	if err != nil {
		return fmt.Errorf("init chunker: %w", err)
	}

	auditLog := audit.NewLogger(stores.Audit)
	keyVault := vault.NewService(stores.ProviderKeys, nil)

	baseClient := providers.NewClient(cfg.OpenRouter.BaseURL, cfg.OpenRouter.APIKey)
	clientFor := func(ctx context.Context) *providers.Client {
		key := keyVault.GetActiveKey(ctx, vault.ProviderOpenRouter, cfg.OpenRouter.APIKey)
		return baseClient.WithAPIKey(key)
	}

	embedder := embedding.NewClient(cfg.OpenRouter.BaseURL, cfg.OpenRouter.APIKey,
		cfg.Embeddings.Model, cfg.Embeddings.BatchSize)

	processor := ingest.NewProcessor(stores.Files, chunker, embedder, vectors)
	reaper := ingest.NewReaper(stores.Files, processor,
		time.Duration(cfg.Ingestion.ReaperIntervalSeconds)*time.Second,
		time.Duration(cfg.Ingestion.StaleProcessingMinutes)*time.Minute)

	composer := rag.NewComposer(vectors, embedder, stores.Files, cfg.RetrievalSnapshot)
	quotaSvc := quota.NewService(stores.Usage)
	costs := providers.NewCostTracker(baseClient)

	orch := chat.NewOrchestrator(
		stores.Conversations,
		stores.Assistants,
		stores.Usage,
		quotaSvc,
		composer,
		costs,
		func(ctx context.Context) chat.Streamer { return clientFor(ctx) },
	)

	tokens := auth.NewTokenIssuer(cfg.Security.SecretKey,
		time.Duration(cfg.Security.AccessTokenExpireHours)*time.Hour)

	server := httpapi.NewServer(httpapi.Deps{
		Config: cfg,
		Stores: stores,
		Tokens: tokens,
		Audit:  auditLog,
		Quota:  quotaSvc,
		Vault:  keyVault,
		Orch:   orch,
		Proc:   processor,
		Client: clientFor,
	})

	slog.Info("across starting", "version", Version, "env", cfg.Env)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		reaper.Run(ctx)
		return nil
	})
	g.Go(func() error {
		audit.NewRetention(stores.Audit, cfg.Audit.CleanupCron, cfg.Audit.RetentionDays).Run(ctx)
		return nil
	})
	g.Go(func() error {
		if err := cfg.Watch(ctx, configPath); err != nil {
			slog.Warn("config watch unavailable", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		return server.Run(ctx)
	})
	return g.Wait()
}
