package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	httpAdapter "github.com/cwygoda/songbridge/internal/adapter/http"
	"github.com/cwygoda/songbridge/internal/adapter/mcptools"
	"github.com/cwygoda/songbridge/internal/adapter/memory"
	"github.com/cwygoda/songbridge/internal/adapter/sqlite"
	"github.com/cwygoda/songbridge/internal/adapter/suno"
	"github.com/cwygoda/songbridge/internal/config"
	"github.com/cwygoda/songbridge/internal/domain"
	"github.com/cwygoda/songbridge/internal/logging"
	"github.com/cwygoda/songbridge/internal/metrics"
	"github.com/cwygoda/songbridge/internal/worker"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	// stdout belongs to the MCP protocol when serving over stdio.
	var logOut io.Writer = os.Stdout
	if cfg.MCPTransport == config.MCPStdio {
		logOut = os.Stderr
	}
	logger := logging.New(logOut, cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("songbridge stopped")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().
		Int("port", cfg.Port).
		Str("store", cfg.Store).
		Str("mcp", cfg.MCPTransport).
		Msg("starting songbridge")

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open completion store: %w", err)
	}
	defer closeStore()

	callbackURL, err := cfg.PublicCallbackURL()
	if err != nil {
		return err
	}
	client, err := suno.NewClient(suno.Options{
		APIKey:            cfg.ProviderAPIKey,
		BaseURL:           cfg.ProviderBaseURL,
		Model:             cfg.Model,
		CallbackURL:       callbackURL,
		RequestTimeout:    cfg.RequestTimeout,
		RequestsPerMinute: cfg.SubmitRatePerMinute,
		Logger:            &logger,
	})
	if err != nil {
		return err
	}

	m := metrics.New()
	svc := domain.NewBridgeService(store, client, domain.WithRecorder(m))

	tools := mcptools.NewTools(svc, cfg.PollPolicy(), logger)
	mcpServer := mcptools.NewServer(version, tools)

	opts := httpAdapter.Options{
		Secret:  cfg.WebhookSecret,
		Poll:    cfg.PollPolicy(),
		Logger:  logger,
		Metrics: m.Handler(),
	}
	if cfg.MCPTransport == config.MCPHTTP {
		opts.MCP = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpServer }, nil)
	}
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := httpAdapter.NewServer(svc, addr, opts)

	janitor := worker.New(svc, cfg.JanitorInterval, cfg.TerminalRetention, cfg.PendingRetention, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go janitor.Run(ctx)

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", srv.Addr()).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if cfg.MCPTransport == config.MCPStdio {
		go func() {
			logger.Info().Msg("MCP serving on stdio")
			if err := mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("mcp stdio: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("received signal, shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("component failed, shutting down")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

func openStore(cfg *config.Config) (domain.CompletionStore, func(), error) {
	switch cfg.Store {
	case config.StoreSQLite:
		repo, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { repo.Close() }, nil
	default:
		return memory.New(memory.WithMaxJobs(cfg.MaxJobs)), func() {}, nil
	}
}
