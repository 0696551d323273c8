package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agentworkforce/taskmirror/internal/config"
	"github.com/agentworkforce/taskmirror/internal/httpapi"
	"github.com/agentworkforce/taskmirror/internal/logging"
	"github.com/agentworkforce/taskmirror/internal/taskmirror"
	"github.com/agentworkforce/taskmirror/internal/tasksync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatalf("failed to load configuration: %v", err)
	}

	baseURL := flag.String("base-url", cfg.BaseURL, "dashboard authority base URL")
	pushURL := flag.String("push-url", cfg.PushURL, "push channel URL override")
	token := flag.String("token", cfg.Token, "bearer token")
	tokenFile := flag.String("token-file", cfg.TokenFile, "file holding the bearer token, hot-reloaded on change")
	stateDSN := flag.String("state-dsn", cfg.StateDSN, "state snapshot backend (file path, memory, or postgres DSN)")
	listenAddr := flag.String("listen", cfg.ListenAddr, "status API bind address, empty disables")
	pollInterval := flag.Duration("poll-interval", cfg.PollInterval, "selected-task reconciliation interval")
	fetchTimeout := flag.Duration("fetch-timeout", cfg.FetchTimeout, "per-fetch timeout")
	logLevel := flag.String("log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flag.Parse()

	cfg.BaseURL = strings.TrimSpace(*baseURL)
	cfg.PushURL = strings.TrimSpace(*pushURL)
	cfg.Token = strings.TrimSpace(*token)
	cfg.TokenFile = strings.TrimSpace(*tokenFile)
	cfg.StateDSN = strings.TrimSpace(*stateDSN)
	cfg.ListenAddr = strings.TrimSpace(*listenAddr)
	cfg.PollInterval = *pollInterval
	cfg.FetchTimeout = *fetchTimeout
	cfg.LogLevel = *logLevel
	if err := cfg.Validate(); err != nil {
		fatalf("invalid configuration: %v", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Development: cfg.LogDev})
	if err != nil {
		fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	tokens, closeTokens, err := buildTokenSource(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize token source", zap.Error(err))
	}
	defer closeTokens()

	backend, err := taskmirror.BuildStateBackendFromDSN(cfg.StateDSN)
	if err != nil {
		logger.Fatal("failed to initialize state backend", zap.Error(err))
	}

	engine, err := tasksync.NewEngine(tasksync.EngineOptions{
		BaseURL:      cfg.BaseURL,
		PushURL:      cfg.PushURL,
		Tokens:       tokens,
		StateBackend: backend,
		Logger:       logger,
		PollInterval: cfg.PollInterval,
		FetchTimeout: cfg.FetchTimeout,
	})
	if err != nil {
		logger.Fatal("failed to initialize engine", zap.Error(err))
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var apiServer *http.Server
	if cfg.ListenAddr != "" {
		apiServer = &http.Server{
			Addr: cfg.ListenAddr,
			Handler: httpapi.NewServerWithConfig(engine, httpapi.ServerConfig{
				APIToken:     cfg.APIToken,
				RateLimitMax: 300,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("status API listening", zap.String("addr", cfg.ListenAddr))
			if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status API failed", zap.Error(err))
				stop()
			}
		}()
	}

	logger.Info("mirror starting",
		zap.String("base_url", cfg.BaseURL),
		zap.Duration("poll_interval", cfg.PollInterval))
	if err := engine.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("mirror exited", zap.Error(err))
	}

	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = apiServer.Shutdown(shutdownCtx)
	}
	logger.Info("mirror stopped")
}

// buildTokenSource prefers the hot-reloading file source over a static token.
func buildTokenSource(cfg config.Config, logger *zap.Logger) (tasksync.TokenSource, func(), error) {
	if cfg.TokenFile != "" {
		fileToken, err := config.NewFileToken(cfg.TokenFile, logger.Named("token"))
		if err != nil {
			return nil, nil, err
		}
		return fileToken, func() { _ = fileToken.Close() }, nil
	}
	return tasksync.StaticToken(cfg.Token), func() {}, nil
}

func fatalf(format string, args ...any) {
	logger := logging.NewDefault()
	logger.Sugar().Fatalf(format, args...)
}
