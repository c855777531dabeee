package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dicomweb-oauth/internal/common/errors"
	"dicomweb-oauth/internal/common/logging"
	"dicomweb-oauth/internal/config"
	"dicomweb-oauth/internal/server"
)

// Exit codes returned by the CLI
const (
	ExitCodeSuccess     = 0
	ExitCodeError       = 1
	ExitCodeConfig      = 2
	ExitCodeAuthFailed  = 3
	ExitCodeUnavailable = 4
)

// ExitCode maps an error to the process exit status
func ExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	switch errors.GetType(err) {
	case errors.ErrTypeConfig:
		return ExitCodeConfig
	case errors.ErrTypeTokenAcquisition, errors.ErrTypeTokenValidation:
		return ExitCodeAuthFailed
	case errors.ErrTypeCircuitOpen, errors.ErrTypeRateLimit:
		return ExitCodeUnavailable
	default:
		return ExitCodeError
	}
}

// bootstrap loads the environment and server file and builds the App
func bootstrap(opts *rootOptions) (*App, error) {
	// Load environment variables
	_ = godotenv.Load()

	if err := logging.InitGlobalLogger(); err != nil {
		return nil, err
	}

	cfg := config.Load()
	if opts.configPath != "" {
		cfg.ConfigPath = opts.configPath
	}
	if opts.metricsAddr != "" {
		cfg.MetricsEnabled = true
	}
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return nil, err
	}

	servers, err := config.LoadServers(cfg.ConfigPath)
	if err != nil {
		logging.Error("Failed to load server configuration", err,
			logging.String("path", cfg.ConfigPath))
		return nil, err
	}

	app, err := New(cfg, servers)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return nil, err
	}
	return app, nil
}

// Watch keeps every server's token warm until ctx ends. Each tick asks
// for a token, which only reaches the network when the cached one is
// inside its refresh buffer.
func (app *App) Watch(ctx context.Context, interval time.Duration) {
	app.refreshAll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.refreshAll(ctx)
		}
	}
}

func (app *App) refreshAll(ctx context.Context) {
	for _, name := range app.Manager.Servers() {
		tok, err := app.Manager.GetTokenDetails(ctx, name, false)
		if err != nil {
			app.Logger.Warn("Token refresh failed",
				logging.String("server", name),
				logging.String("code", errors.CodeOf(err)),
				logging.Err(err))
			continue
		}
		app.Logger.Debug("Token warm",
			logging.String("server", name),
			logging.Time("expires_at", tok.ExpiresAt))
	}
}

// serveDiagnostics runs the diagnostics server on addr until ctx ends
func (app *App) serveDiagnostics(ctx context.Context, addr string) error {
	var metricsHandler http.Handler
	if app.Metrics != nil {
		metricsHandler = app.Metrics.Handler()
	}
	var checks []server.HealthCheck
	if app.RedisClient != nil {
		checks = append(checks, app.RedisClient.Health)
	}
	srv := server.New(server.NewRouter(metricsHandler, app.Manager, checks...), addr, app.Logger)
	if err := srv.Start(); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.Logger.Warn("Diagnostics server forced to shutdown", logging.Err(err))
		}
	}()
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
