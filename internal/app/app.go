package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/devcolor-ask/internal/config"
	"github.com/yungbote/devcolor-ask/internal/controller"
	askhttp "github.com/yungbote/devcolor-ask/internal/http"
	httpH "github.com/yungbote/devcolor-ask/internal/http/handlers"
	"github.com/yungbote/devcolor-ask/internal/observability"
	"github.com/yungbote/devcolor-ask/internal/ollama"
	"github.com/yungbote/devcolor-ask/internal/platform/logger"
	"github.com/yungbote/devcolor-ask/internal/realtime"
)

type App struct {
	Log    *logger.Logger
	Config *config.Config

	server       *askhttp.Server
	sessions     *controller.Registry
	hub          *realtime.Hub
	otelShutdown func(context.Context) error

	// cancelWork aborts questions still waiting on the inference server.
	cancelWork context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: observability.DefaultServiceName,
		Environment: cfg.Env,
	})
	metrics := observability.Init()

	client, err := ollama.New(cfg.Ollama)
	if err != nil {
		return nil, err
	}

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	sessions := controller.NewRegistry(client, controller.Options{
		Model:       cfg.Ollama.Model,
		Malformed:   controller.MalformedPolicy(cfg.Controller.MalformedResponse),
		BaseContext: workCtx,
		Log:         log,
		Metrics:     metrics,
	})
	hub := realtime.NewHub(log)

	server := askhttp.NewServer(askhttp.RouterConfig{
		Log:             log,
		Metrics:         metrics,
		ServiceName:     observability.DefaultServiceName,
		AllowOrigins:    cfg.HTTP.AllowOrigins,
		MaxRequestBytes: cfg.HTTP.MaxRequestBytes,
		SessionHandler:  httpH.NewSessionHandler(log, sessions, hub),
		HealthHandler:   httpH.NewHealthHandler(log, client),
	}, cfg.HTTP)
	server.OnShutdown(hub.CloseAll)

	log.Info("ollama client ready",
		"endpoint", client.Endpoint(),
		"model", cfg.Ollama.Model,
		"malformed_response", cfg.Controller.MalformedResponse,
	)

	return &App{
		Log:          log,
		Config:       cfg,
		server:       server,
		sessions:     sessions,
		hub:          hub,
		otelShutdown: otelShutdown,
		cancelWork:   cancelWork,
	}, nil
}

// Run serves until ctx is done or the server fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Log.Info("http server listening", "addr", a.server.Addr())
		if err := a.server.Run(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.sweep(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	return g.Wait()
}

func (a *App) sweep(ctx context.Context) {
	idle := a.Config.Controller.SessionIdleTimeout.Duration
	interval := idle / 4
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.sessions.Sweep(idle)
		}
	}
}

// shutdown stops accepting requests, then gives pending questions until the
// shutdown timeout to resolve before cancelling them.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.HTTP.ShutdownTimeout.Duration)
	defer cancel()
	defer a.Log.Sync()

	a.Log.Info("shutting down", "sessions", a.sessions.Len())
	serverErr := a.server.Shutdown(ctx)

	if !a.drain(ctx) {
		a.Log.Warn("shutdown timeout reached; cancelling pending questions")
	}
	a.cancelWork()
	a.sessions.Wait()

	if err := a.otelShutdown(context.Background()); err != nil {
		a.Log.Warn("otel shutdown failed", "error", err)
	}
	if serverErr != nil {
		return fmt.Errorf("http shutdown: %w", serverErr)
	}
	return nil
}

func (a *App) drain(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		a.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
