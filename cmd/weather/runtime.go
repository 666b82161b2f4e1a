package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/balandzin/Weather-API/internal/app"
	"github.com/balandzin/Weather-API/internal/cache"
	"github.com/balandzin/Weather-API/internal/client"
	"github.com/balandzin/Weather-API/internal/config"
	"github.com/balandzin/Weather-API/internal/location"
	"github.com/balandzin/Weather-API/internal/models"
	"github.com/balandzin/Weather-API/internal/service"
	"github.com/balandzin/Weather-API/internal/viewstate"
)

// runtime is the wired object graph shared by every command.
type runtime struct {
	cfg        *config.Config
	logger     *zap.Logger
	client     *client.OpenWeatherClient
	service    *service.WeatherService
	cache      cache.ForecastCache
	cachePing  func(context.Context) error
	store      *viewstate.Store
	controller *app.Controller
	provider   *location.Provider
	scheduler  *app.Scheduler

	closers   []func() error
	storeStop context.CancelFunc
	storeDone chan struct{}
}

func newRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runtime, error) {
	opts := client.Options{
		Timeout:        cfg.WeatherAPITimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	}
	if cfg.BreakerEnabled {
		opts.Breaker = client.NewBreaker(int(cfg.BreakerThreshold), cfg.BreakerTimeout)
		logger.Info("circuit breaker enabled",
			zap.Uint32("failure_threshold", cfg.BreakerThreshold),
			zap.Duration("timeout", cfg.BreakerTimeout))
	}
	weatherClient, err := client.NewOpenWeatherClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, opts)
	if err != nil {
		return nil, fmt.Errorf("weather client: %w", err)
	}

	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		client:  weatherClient,
		service: service.NewWeatherService(weatherClient, logger),
		store:   viewstate.NewStore(logger),
	}
	if err := rt.openCache(ctx); err != nil {
		return nil, err
	}
	rt.controller = app.NewController(rt.service, rt.store, app.Options{
		Cache:         rt.cache,
		CityMaxLength: cfg.CityMaxLength,
		Logger:        logger,
	})
	rt.scheduler = app.NewScheduler(rt.controller, cfg.RefreshInterval, logger)

	source, err := newLocationSource(cfg)
	if err != nil {
		rt.close()
		return nil, err
	}
	if source != nil {
		initial, err := location.ParseAuthorization(cfg.LocationPermission)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("location permission: %w", err)
		}
		rt.provider = location.NewProvider(source, location.Handlers{
			OnLocation: rt.controller.HandleLocation,
			OnDenied:   rt.controller.HandlePermissionDenied,
		}, location.Options{
			Initial:      initial,
			PollInterval: cfg.LocationPollInterval,
			Logger:       logger,
		})
	}
	return rt, nil
}

func (rt *runtime) openCache(ctx context.Context) error {
	cfg := rt.cfg
	switch cfg.CacheBackend {
	case "in_memory":
		rt.cache = cache.NewInMemoryCache()
	case "sqlite":
		c, err := cache.NewSQLiteCache(ctx, cfg.SQLitePath, cfg.CacheKey)
		if err != nil {
			return fmt.Errorf("sqlite cache: %w", err)
		}
		rt.cache, rt.cachePing = c, c.Ping
		rt.closers = append(rt.closers, c.Close)
	case "postgres":
		c, err := cache.NewPostgresCache(ctx, cfg.PostgresDSN, cfg.CacheKey)
		if err != nil {
			return fmt.Errorf("postgres cache: %w", err)
		}
		rt.cache, rt.cachePing = c, c.Ping
		rt.closers = append(rt.closers, c.Close)
	case "memcached":
		c := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.CacheKey, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		rt.cache, rt.cachePing = c, c.Ping
		rt.closers = append(rt.closers, c.Close)
	default:
		rt.cache = cache.NewFileCache(cfg.CacheFilePath)
	}
	rt.logger.Info("cache backend", zap.String("backend", cfg.CacheBackend))
	return nil
}

func newLocationSource(cfg *config.Config) (location.Source, error) {
	switch cfg.LocationSource {
	case "static":
		return location.StaticSource{Coordinate: models.Coordinate{
			Latitude:  cfg.Latitude,
			Longitude: cfg.Longitude,
		}}, nil
	case "ip":
		return location.NewIPSource(cfg.LocationIPURL, cfg.WeatherAPITimeout), nil
	case "geocode":
		return location.NewGeocodeSource(cfg.GeocoderAPIKey,
			cfg.LocationStreet, cfg.LocationCity, cfg.LocationState, cfg.LocationCountry), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown location source %q", cfg.LocationSource)
	}
}

// start runs the store, restores the saved forecast and starts the location provider
// and the refresh scheduler.
func (rt *runtime) start(ctx context.Context) error {
	storeCtx, cancel := context.WithCancel(context.Background())
	rt.storeStop = cancel
	rt.storeDone = make(chan struct{})
	go func() {
		defer close(rt.storeDone)
		rt.store.Run(storeCtx)
	}()

	if _, err := rt.controller.RestoreForecast(ctx); err != nil {
		rt.logger.Warn("ignoring unreadable saved forecast", zap.Error(err))
	}
	if rt.provider != nil {
		if err := rt.provider.Start(ctx); err != nil {
			return fmt.Errorf("location provider: %w", err)
		}
	}
	return rt.scheduler.Start()
}

// close stops background work in reverse start order and releases cache connections.
func (rt *runtime) close() {
	if rt.scheduler != nil {
		rt.scheduler.Stop()
	}
	if rt.provider != nil {
		rt.provider.Stop()
	}
	if rt.controller != nil {
		rt.controller.Wait()
	}
	rt.service.Wait()
	if rt.storeStop != nil {
		rt.storeStop()
		<-rt.storeDone
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn("close", zap.Error(err))
		}
	}
}
