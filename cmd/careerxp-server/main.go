package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx := context.Background()
	app, cleanup, err := BuildApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := app.Config
	logger := app.Logger

	logger.Info("starting careerxp server",
		"profile", cfg.Profile,
		"address", cfg.Server.Address,
		"storage_adapter", cfg.Storage.Adapter,
		"day_boundary_tz", cfg.XP.DayBoundaryTimezone,
		"dispatch_mode", cfg.XP.DispatchMode)

	errCh := make(chan error, 2)
	serve := func(name string, srv *http.Server) {
		logger.Info("listening", "server", name, "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
	}

	go serve("api", app.Server)
	if app.Metrics != nil {
		go serve("metrics", app.Metrics.Server)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		logger.Info("shutting down server", "signal", sig.String(), "timeout", cfg.Server.ShutdownTimeout)
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", "error", err)
		exitCode = 1
	}
	if app.Metrics != nil {
		_ = app.Metrics.Shutdown(shutdownCtx)
	}

	logger.Info("server stopped")
	if exitCode != 0 {
		cancel()
		cleanup()
		os.Exit(exitCode)
	}
}
