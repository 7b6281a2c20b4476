package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/usecase"
	"MarketPulse/pkg/config"
	xhttp "MarketPulse/pkg/http"
	applogger "MarketPulse/pkg/logger"
)

// App encapsulates the application lifecycle: connect the stream,
// subscribe the configured symbols, serve the ops API and shut down in
// order on interrupt.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	orch       *usecase.Orchestrator
	httpServer *xhttp.Server
	sink       drepo.EventSink
}

// New creates the App from its assembled dependencies. The sink may be
// nil when Kafka is disabled.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	orch *usecase.Orchestrator,
	httpServer *xhttp.Server,
	sink drepo.EventSink,
) *App {
	return &App{
		cfg:        cfg,
		log:        log,
		orch:       orch,
		httpServer: httpServer,
		sink:       sink,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.orch.Connect(ctx); err != nil {
		a.log.Error("stream connect error", applogger.Error(err))
		return err
	}
	if err := a.orch.Subscribe(ctx, a.cfg.Stream.Symbols...); err != nil {
		a.log.Warn("initial subscribe error", applogger.Error(err))
	}
	a.log.Info("pipeline started", applogger.Strings("symbols", a.cfg.Stream.Symbols))

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown stops the pipeline first so no new events hit a draining
// server, then drains HTTP and flushes the sink.
func (a *App) shutdown(ctx context.Context) error {
	if err := a.orch.Destroy(); err != nil {
		a.log.Warn("orchestrator stop error", applogger.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.log.Warn("sink close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
