package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/workmesh/ndp/internal/config"
	"github.com/workmesh/ndp/internal/kv"
	"github.com/workmesh/ndp/internal/llm"
	"github.com/workmesh/ndp/internal/llm/providers"
	"github.com/workmesh/ndp/internal/observability"
	"github.com/workmesh/ndp/internal/signals"
	"github.com/workmesh/ndp/internal/tools"
	"github.com/workmesh/ndp/internal/workspace"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run workspace supervisors for the configured workspaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "ndp.yaml", "Path to configuration file")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	observability.SetupLogging(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	log := slog.With("component", "ndpd")

	stop := signals.NewStopping()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.Info("shutdown signal received", "signal", sig.String())
		stop.Set()
	}()

	store, err := buildStore(ctx, cfg, stop)
	if err != nil {
		return err
	}

	registry, err := buildProviders(ctx, cfg, stop)
	if err != nil {
		return err
	}

	toolReg, err := tools.Builtins(
		tools.ImageConfig{
			APIKey:  cfg.Tools.Image.APIKey,
			BaseURL: cfg.Tools.Image.BaseURL,
			Model:   cfg.Tools.Image.Model,
		},
		tools.ReadDocsConfig{Root: cfg.Tools.DocsRoot},
		tools.WebSearchConfig{},
	)
	if err != nil {
		return err
	}

	metrics, metricsReg := observability.NewMetrics()
	metricsCtx, cancelMetrics := context.WithCancel(ctx)
	defer cancelMetrics()
	observability.Serve(metricsCtx, cfg.Metrics.Addr, metricsReg)
	registry.Observe(func(model llm.ModelInfo, elapsed time.Duration, outcome string) {
		metrics.ObserveCompletion(string(model.Dialect), model.Name, elapsed, outcome)
	})

	runtime := workspace.NewRuntime(workspace.Config{
		Store:          store,
		Providers:      registry,
		Tools:          toolReg,
		Counter:        llm.NewTokenCounter(),
		Models:         cfg.Catalog(),
		DefaultPersona: cfg.Persona.Persona(),
		Metrics:        metrics,
		Stop:           stop,
	})
	runtime.Serve(ctx, cfg.Workspaces...)
	log.Info("serving workspaces", "count", len(cfg.Workspaces), "dev", cfg.Dev)

	runtime.Wait()
	log.Info("all supervisors drained")
	return nil
}

func buildStore(ctx context.Context, cfg *config.Config, stop *signals.Stopping) (kv.Store, error) {
	if cfg.Redis.Addr == "" {
		slog.Warn("no redis address configured, using the in-memory store")
		return kv.NewMemoryStore(stop), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis at %s: %w", cfg.Redis.Addr, err)
	}
	return kv.NewRedisStore(client, stop), nil
}

func buildProviders(ctx context.Context, cfg *config.Config, stop *signals.Stopping) (*providers.Registry, error) {
	registry := providers.NewRegistry(stop, cfg.Dev)
	if cfg.Providers.Anthropic.Enabled() {
		registry.Register(providers.NewAnthropicAdapter(providers.AnthropicConfig{
			APIKey:  cfg.Providers.Anthropic.APIKey,
			BaseURL: cfg.Providers.Anthropic.BaseURL,
		}))
	}
	if cfg.Providers.OpenAI.Enabled() {
		registry.Register(providers.NewOpenAIAdapter(providers.OpenAIConfig{
			APIKey:  cfg.Providers.OpenAI.APIKey,
			BaseURL: cfg.Providers.OpenAI.BaseURL,
		}))
	}
	if cfg.Providers.Google.Enabled() {
		adapter, err := providers.NewGoogleAdapter(ctx, providers.GoogleConfig{
			APIKey:  cfg.Providers.Google.APIKey,
			BaseURL: cfg.Providers.Google.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		registry.Register(adapter)
	}
	return registry, nil
}
