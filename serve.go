package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dabbu-knowledge-platform/files-api-server/internal/cache"
	"github.com/dabbu-knowledge-platform/files-api-server/internal/config"
	"github.com/dabbu-knowledge-platform/files-api-server/internal/httpapi"
	"github.com/dabbu-knowledge-platform/files-api-server/internal/keystore"
	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider"
	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider/gdrive"
	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider/gmail"
	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider/localfs"
	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider/onedrive"
)

// httpClientTimeout bounds individual upstream provider requests.
const httpClientTimeout = 60 * time.Second

// shutdownGrace is how long in-flight requests get to finish after a
// termination signal.
const shutdownGrace = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Resolve(flagConfigPath)
			if err != nil {
				return err
			}

			return runServe(cmd.Context(), cfg, buildLogger(cfg))
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	keys, err := keystore.Open(ctx, cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("opening key store: %w", err)
	}
	defer keys.Close()

	ttl, err := cfg.CacheTTL()
	if err != nil {
		return fmt.Errorf("parsing cache TTL: %w", err)
	}

	cacheManager, err := cache.New(cfg.Cache.Dir, ttl, logger)
	if err != nil {
		return fmt.Errorf("initializing cache: %w", err)
	}

	registry, err := buildRegistry(cfg, cacheManager, logger)
	if err != nil {
		return err
	}

	hub := httpapi.NewHub(logger)

	server := httpapi.NewServer(cfg, registry, keys, cacheManager, hub, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server listening",
			slog.String("addr", cfg.Server.Listen),
			slog.Any("providers", registry.IDs()),
		)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		return cacheManager.Run(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()

		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// buildRegistry constructs one adapter per enabled provider ID.
func buildRegistry(cfg *config.Config, cacheManager *cache.Manager, logger *slog.Logger) (*provider.Registry, error) {
	httpClient := &http.Client{Timeout: httpClientTimeout}
	pageCap := cfg.Server.PaginationCap

	var providers []provider.DataProvider

	for _, id := range cfg.Providers.Enabled {
		switch id {
		case localfs.ProviderID:
			p, err := localfs.New(cfg.Providers.BasePath, logger)
			if err != nil {
				return nil, fmt.Errorf("initializing local provider: %w", err)
			}

			providers = append(providers, p)
		case gdrive.ProviderID:
			providers = append(providers, gdrive.New(
				gdrive.DefaultBaseURL, gdrive.DefaultUploadBaseURL, httpClient, pageCap, logger))
		case onedrive.ProviderID:
			providers = append(providers, onedrive.New(
				onedrive.DefaultBaseURL, httpClient, pageCap, logger))
		case gmail.ProviderID:
			providers = append(providers, gmail.New(
				gmail.DefaultBaseURL, httpClient, cacheManager,
				httpapi.CacheRoutePrefix, pageCap, logger))
		default:
			return nil, fmt.Errorf("unknown provider %q in configuration", id)
		}
	}

	return provider.NewRegistry(providers...), nil
}
