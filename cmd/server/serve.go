package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dingjianrui/code-agent/internal/agent"
	"github.com/dingjianrui/code-agent/internal/auth"
	"github.com/dingjianrui/code-agent/internal/config"
	"github.com/dingjianrui/code-agent/internal/httpapi"
	"github.com/dingjianrui/code-agent/internal/logger"
	mcpserver "github.com/dingjianrui/code-agent/internal/mcp"
	"github.com/dingjianrui/code-agent/internal/model"
	"github.com/dingjianrui/code-agent/internal/sandbox"
	"github.com/dingjianrui/code-agent/internal/sandbox/docker"
	"github.com/dingjianrui/code-agent/internal/session"
)

const shutdownTimeout = 30 * time.Second

// stack holds everything the serve and mcp commands share
type stack struct {
	cfg     config.Config
	manager *session.Manager
	store   *auth.Store
	sandbox sandbox.Client
}

func buildStack() (*stack, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := logger.Init(cfg.Server.LogDir); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	var sb sandbox.Client
	if cfg.Sandbox.Runtime == config.SandboxRuntimeDocker {
		runner, err := docker.NewRunner(cfg.Sandbox.Image)
		if err != nil {
			return nil, fmt.Errorf("init docker sandbox: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = runner.Ping(pingCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("docker daemon unreachable: %w", err)
		}
		sb = runner
		logger.Info("Sandbox runtime: docker (%s)", cfg.Sandbox.Image)
	} else {
		sb = sandbox.NewHTTPClient(cfg.Sandbox.URL, cfg.Sandbox.AuthKey)
		logger.Info("Sandbox runtime: remote (%s)", cfg.Sandbox.URL)
	}

	engine := model.NewClient(cfg.Model.BaseURL, cfg.Model.APIKey, cfg.Model.Name, cfg.Model.Temperature)
	generator := agent.NewGenerator(engine, session.NewRetryClient(sb), agent.Options{
		ExecTimeout: cfg.Sandbox.Timeout(),
		MaxSteps:    cfg.Session.MaxSteps,
	})
	manager := session.NewManager(generator, cfg.Session.MaxActive, cfg.Session.IdleTimeout(), cfg.Session.EventBufferSize)

	s := &stack{cfg: cfg, manager: manager, sandbox: sb}
	if cfg.Server.AuthEnabled {
		store, err := auth.NewStore(cfg.Server.DataDir)
		if err != nil {
			manager.Close()
			return nil, fmt.Errorf("init auth store: %w", err)
		}
		s.store = store
	}
	return s, nil
}

func (s *stack) close() {
	s.manager.Close()
	if s.store != nil {
		_ = s.store.Close()
	}
	if c, ok := s.sandbox.(io.Closer); ok {
		_ = c.Close()
	}
	_ = logger.Close()
}

func runServe() error {
	s, err := buildStack()
	if err != nil {
		return err
	}
	defer s.close()

	var limiter *auth.RateLimiter
	if s.store != nil {
		limiter = auth.NewRateLimiter(s.cfg.Limits.RequestsPerSecond, s.cfg.Limits.Burst)
	}
	api := httpapi.NewServer(s.manager, s.cfg.Limits)

	srv := &http.Server{
		Addr:    s.cfg.Server.Address,
		Handler: api.Handler(s.store, limiter),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Listening on %s (auth: %v, model: %s)",
			s.cfg.Server.Address, s.cfg.Server.AuthEnabled, s.cfg.Model.Name)
		serverErr <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server: %w", err)
	case sig := <-stop:
		logger.Info("Received %v, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown: %v", err)
	}
	return nil
}

func runMCP() error {
	s, err := buildStack()
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return mcpserver.NewServer(s.manager).Run(ctx)
}
