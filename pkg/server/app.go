package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CapitalDash/internal/service/scheduler"
	"CapitalDash/internal/usecase"
	"CapitalDash/pkg/config"
	xhttp "CapitalDash/pkg/http"
	pkgkafka "CapitalDash/pkg/kafka"
	xlogger "CapitalDash/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	httpServer *xhttp.Server
	refresher  *scheduler.Refresher
	catalog    *usecase.ETFCatalog
	consumer   *pkgkafka.Consumer
	logger     *xlogger.Logger
}

// New creates a new App instance. consumer may be nil.
func New(
	cfg *config.Config,
	httpServer *xhttp.Server,
	refresher *scheduler.Refresher,
	catalog *usecase.ETFCatalog,
	consumer *pkgkafka.Consumer,
	logger *xlogger.Logger,
) *App {
	return &App{
		cfg:        cfg,
		httpServer: httpServer,
		refresher:  refresher,
		catalog:    catalog,
		consumer:   consumer,
		logger:     logger,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The refresher reloads the catalog after every run; without it the
	// catalog is loaded once here.
	if a.cfg.Refresh.Enabled {
		a.refresher.Start()
	} else {
		go func() {
			rctx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			_ = a.catalog.Reload(rctx)
		}()
	}

	if a.consumer != nil {
		if err := a.consumer.Start(); err != nil {
			a.logger.Warn("kafka consumer not started", xlogger.Error(err))
		}
	}

	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http server start error", xlogger.Error(err))
		return err
	}
	a.logger.Info("capitaldash started",
		xlogger.String("env", a.cfg.Environment),
		xlogger.String("instance", a.cfg.Instance),
		xlogger.String("storage", a.cfg.Storage.Backend),
		xlogger.Int("symbols", len(a.cfg.Symbols)))

	<-ctx.Done()
	a.logger.Info("shutdown signal received")
	return a.shutdown()
}

// shutdown stops accepting requests first, then background work. Stores and
// clients are closed by the injector cleanup afterwards.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.httpServer.ShutdownTimeout())
	defer cancel()

	var firstErr error
	if err := a.httpServer.Stop(ctx); err != nil {
		a.logger.Error("http shutdown error", xlogger.Error(err))
		firstErr = err
	}
	if err := a.refresher.Stop(ctx); err != nil {
		a.logger.Warn("refresher stop error", xlogger.Error(err))
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.logger.Warn("kafka consumer stop error", xlogger.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	return firstErr
}
