package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const defaultShutdownTimeout = 20 * time.Second

// serve runs the http server until SIGINT or SIGTERM
func (app *application) serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", app.Config.Port))
	if err != nil {
		return err
	}
	return app.run(ctx, ln)
}

// run serves on ln until ctx is done, then drains open requests and stops
// every component. Hijacked websockets are closed by the hub.
func (app *application) run(ctx context.Context, ln net.Listener) error {
	app.Server = &http.Server{
		Handler:      app.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		app.Logger.Info("Starting server", zap.String("address", ln.Addr().String()))
		errCh <- app.Server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		app.Shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		app.Logger.Info("Shutting down server")
	}

	timeout := app.Config.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := app.Server.Shutdown(shutdownCtx)
	if err != nil {
		app.Logger.Error("Server forced to shutdown", zap.Error(err))
	}
	app.Shutdown()

	if err != nil {
		return err
	}
	app.Logger.Info("Server stopped gracefully")
	return nil
}
