package app

import (
	"dicomweb-oauth/internal/cache"
	"dicomweb-oauth/internal/common/logging"
	"dicomweb-oauth/internal/config"
	"dicomweb-oauth/internal/crypto"
	"dicomweb-oauth/internal/locks"
	"dicomweb-oauth/internal/metrics"
	"dicomweb-oauth/internal/oauth2"
	"dicomweb-oauth/internal/ratelimit"
	"dicomweb-oauth/internal/redis"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Servers     []config.ServerConfig
	Manager     *oauth2.Manager
	RedisClient *redis.Client
	Cache       cache.Backend
	Locker      locks.Locker
	Guard       *crypto.SecretsGuard
	Metrics     *metrics.Prometheus
	Logger      logging.Logger
}

// New wires the token manager and everything it depends on
func New(cfg *config.Config, servers []config.ServerConfig) (*App, error) {
	app := &App{
		Config:  cfg,
		Servers: servers,
		Logger:  logging.GetGlobalLogger().WithFields(logging.String("component", "app")),
	}

	if app.needsRedis() {
		if err := app.initializeRedis(); err != nil {
			return nil, err
		}
	}

	if err := app.initializeSecrets(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeCache(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if cfg.MetricsEnabled {
		if err := app.initializeMetrics(); err != nil {
			app.Cleanup()
			return nil, err
		}
	}

	if err := app.initializeManager(); err != nil {
		app.Cleanup()
		return nil, err
	}

	return app, nil
}

// needsRedis is true for the shared cache and for any server whose rate
// limit is kept in redis
func (app *App) needsRedis() bool {
	if app.Config.UsesRedis() {
		return true
	}
	for _, s := range app.Servers {
		if s.RateLimit.IsEnabled() && s.RateLimit.Backend == ratelimit.BackendRedis {
			return true
		}
	}
	return false
}

func (app *App) initializeSecrets() error {
	if app.Config.CacheEncryptionKey != "" {
		guard, err := crypto.NewSecretsGuardFromPassphrase(app.Config.CacheEncryptionKey)
		if err != nil {
			return err
		}
		app.Guard = guard
		return nil
	}

	if app.Config.UsesRedis() {
		app.Logger.Warn("CACHE_ENCRYPTION_KEY not set; tokens cached by this instance cannot be read by others")
	}
	guard, err := crypto.NewSecretsGuard()
	if err != nil {
		return err
	}
	app.Guard = guard
	return nil
}

func (app *App) initializeCache() error {
	cacheConfig := cache.DefaultConfig()
	if app.Config.UsesRedis() {
		cacheConfig.Type = cache.TypeRedis
		cacheConfig.RedisClient = app.RedisClient
	}

	backend, err := cache.New(cacheConfig)
	if err != nil {
		return err
	}
	app.Cache = backend
	app.Logger.Info("Token cache ready", logging.String("backend", string(cacheConfig.Type)))

	if !app.Config.UsesRedis() || !app.Config.DistributedLock {
		app.Locker = locks.Nop{}
		return nil
	}

	locker, err := locks.NewRedsyncManager(app.RedisClient, locks.DefaultConfig(), app.Logger)
	if err != nil {
		return err
	}
	app.Locker = locker
	app.Logger.Info("Distributed acquisition lock: Enabled")
	return nil
}

func (app *App) initializeMetrics() error {
	sink, err := metrics.NewPrometheus()
	if err != nil {
		return err
	}
	app.Metrics = sink
	return nil
}

func (app *App) initializeManager() error {
	opts := []oauth2.Option{
		oauth2.WithLogger(logging.GetGlobalLogger()),
		oauth2.WithCache(app.Cache),
		oauth2.WithLocker(app.Locker),
		oauth2.WithSecretsGuard(app.Guard),
	}
	if app.RedisClient != nil {
		opts = append(opts, oauth2.WithRedis(app.RedisClient))
	}
	if app.Metrics != nil {
		opts = append(opts, oauth2.WithMetrics(app.Metrics))
	}

	manager, err := oauth2.NewManager(app.Servers, opts...)
	if err != nil {
		return err
	}
	app.Manager = manager
	return nil
}

// Cleanup releases all resources in reverse order of creation
func (app *App) Cleanup() {
	if app.Manager != nil {
		app.Manager.Close()
	}
	if app.Locker != nil {
		_ = app.Locker.Close()
	}
	if app.Cache != nil {
		_ = app.Cache.Close()
	}
	if app.Guard != nil {
		app.Guard.Destroy()
	}
	if app.RedisClient != nil {
		app.RedisClient.Close()
	}
}
