package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/balandzin/Weather-API/internal/cache"
	"github.com/balandzin/Weather-API/internal/models"
	"github.com/balandzin/Weather-API/internal/observability"
	"github.com/balandzin/Weather-API/internal/validation"
	"github.com/balandzin/Weather-API/internal/viewstate"
)

// Fetcher is the asynchronous weather source. *service.WeatherService implements it.
type Fetcher interface {
	CurrentByCoordinate(ctx context.Context, coord models.Coordinate) <-chan *models.CurrentConditions
	CurrentByCity(ctx context.Context, city string) <-chan *models.CurrentConditions
	Forecast(ctx context.Context, city string) <-chan *models.ForecastBundle
}

// Options configures a Controller.
type Options struct {
	// Cache receives every successfully fetched forecast. Optional.
	Cache         cache.ForecastCache
	CityMaxLength int
	// SaveTimeout bounds one cache write. Defaults to 5s.
	SaveTimeout time.Duration
	Logger      *zap.Logger
}

// Controller turns commands and location events into fetches and routes the results
// into the view-state store. Results are applied in completion order; a slow response
// to an older command can overwrite a newer one.
type Controller struct {
	fetcher     Fetcher
	store       *viewstate.Store
	cache       cache.ForecastCache
	maxCityLen  int
	saveTimeout time.Duration
	logger      *zap.Logger

	mu       sync.Mutex
	lastCity string
	wg       sync.WaitGroup

	// persistMu orders store application and cache writes of forecasts identically.
	persistMu sync.Mutex
}

// NewController wires f and store.
func NewController(f Fetcher, store *viewstate.Store, opts Options) *Controller {
	saveTimeout := opts.SaveTimeout
	if saveTimeout <= 0 {
		saveTimeout = 5 * time.Second
	}
	return &Controller{
		fetcher:     f,
		store:       store,
		cache:       opts.Cache,
		maxCityLen:  opts.CityMaxLength,
		saveTimeout: saveTimeout,
		logger:      observability.OrNop(opts.Logger),
	}
}

// Refresh fetches current conditions and the forecast for city. Empty input raises
// an alert and returns validation.ErrEmptyInput without touching the network. The
// fetches outlive ctx cancellation; only ctx values are carried over.
func (c *Controller) Refresh(ctx context.Context, city string) error {
	if _, err := validation.ValidateCity(city, c.maxCityLen); err != nil {
		if errors.Is(err, validation.ErrEmptyInput) {
			c.store.NotifyEmptyInput()
		}
		c.logger.Info("refresh rejected", zap.String("city", city), zap.Error(err))
		return err
	}
	c.setLastCity(city)

	fctx := context.WithoutCancel(ctx)
	c.await(func() {
		c.store.SetCurrent(<-c.fetcher.CurrentByCity(fctx, city))
	})
	c.fetchForecast(fctx, city)
	return nil
}

// HandleLocation fetches current conditions at coord and, once they arrive, the
// forecast for the reported location name. Use as location.Handlers.OnLocation.
func (c *Controller) HandleLocation(coord models.Coordinate) {
	ctx := context.Background()
	c.await(func() {
		cur := <-c.fetcher.CurrentByCoordinate(ctx, coord)
		c.store.SetCurrent(cur)
		if cur == nil || cur.LocationName == "" {
			return
		}
		c.setLastCity(cur.LocationName)
		c.fetchForecast(ctx, cur.LocationName)
	})
}

// HandlePermissionDenied forwards a location denial. Use as location.Handlers.OnDenied.
func (c *Controller) HandlePermissionDenied() {
	c.store.NotifyPermissionDenied()
}

// RestoreForecast loads the saved forecast into the store. It reports whether one was
// found; a malformed blob is reported as not found together with the decode error.
func (c *Controller) RestoreForecast(ctx context.Context) (bool, error) {
	if c.cache == nil {
		return false, nil
	}
	b, ok, err := c.cache.Load(ctx)
	if err != nil {
		c.logger.Warn("saved forecast not restored", zap.Error(err))
		return false, err
	}
	if !ok {
		c.logger.Debug("no saved forecast")
		return false, nil
	}
	c.store.SetForecast(&b)
	c.logger.Info("saved forecast restored", zap.Int("entries", len(b.Entries)))
	return true, nil
}

// LastCity returns the most recently requested or located city.
func (c *Controller) LastCity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCity
}

// Wait blocks until every issued fetch has been applied.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) setLastCity(city string) {
	c.mu.Lock()
	c.lastCity = city
	c.mu.Unlock()
}

func (c *Controller) fetchForecast(ctx context.Context, city string) {
	c.await(func() {
		b := <-c.fetcher.Forecast(ctx, city)
		if b == nil {
			return
		}
		c.persistMu.Lock()
		defer c.persistMu.Unlock()
		c.store.SetForecast(b)
		c.saveForecast(*b)
	})
}

// saveForecast persists b. Only called with a successfully decoded bundle.
func (c *Controller) saveForecast(b models.ForecastBundle) {
	if c.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.saveTimeout)
	defer cancel()
	if err := c.cache.Save(ctx, b); err != nil {
		c.logger.Warn("forecast cache save failed", zap.Error(err))
	}
}

func (c *Controller) await(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}
