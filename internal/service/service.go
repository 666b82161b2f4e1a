package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/balandzin/Weather-API/internal/client"
	"github.com/balandzin/Weather-API/internal/models"
	"github.com/balandzin/Weather-API/internal/observability"
)

// WeatherService is the asynchronous, absence-reporting face of the weather client.
// Each call returns immediately with a channel that receives exactly one value and is
// then closed. A nil value means "no data": malformed request, transport failure,
// non-success status and decode mismatch all collapse to nil, with the cause only
// logged. Nothing is retried here and in-flight calls cannot be cancelled by a newer one.
type WeatherService struct {
	client client.WeatherClient
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewWeatherService wraps c. logger may be nil.
func NewWeatherService(c client.WeatherClient, logger *zap.Logger) *WeatherService {
	return &WeatherService{
		client: c,
		logger: observability.OrNop(logger),
	}
}

// loggerFromContext extracts a request-scoped zap.Logger if present.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// CurrentByCoordinate fetches current conditions at coord.
func (s *WeatherService) CurrentByCoordinate(ctx context.Context, coord models.Coordinate) <-chan *models.CurrentConditions {
	return resolve(s, ctx, "current_by_coordinate", []zap.Field{
		zap.Float64("latitude", coord.Latitude),
		zap.Float64("longitude", coord.Longitude),
	}, func(ctx context.Context) (models.CurrentConditions, error) {
		return s.client.CurrentByCoordinate(ctx, coord)
	})
}

// CurrentByCity fetches current conditions for city, sent verbatim.
func (s *WeatherService) CurrentByCity(ctx context.Context, city string) <-chan *models.CurrentConditions {
	return resolve(s, ctx, "current_by_city", []zap.Field{zap.String("city", city)},
		func(ctx context.Context) (models.CurrentConditions, error) {
			return s.client.CurrentByCity(ctx, city)
		})
}

// Forecast fetches the forecast bundle for city, sent verbatim.
func (s *WeatherService) Forecast(ctx context.Context, city string) <-chan *models.ForecastBundle {
	return resolve(s, ctx, "forecast", []zap.Field{zap.String("city", city)},
		func(ctx context.Context) (models.ForecastBundle, error) {
			return s.client.Forecast(ctx, city)
		})
}

// Wait blocks until every issued call has resolved.
func (s *WeatherService) Wait() {
	s.wg.Wait()
}

func resolve[T any](s *WeatherService, ctx context.Context, op string, fields []zap.Field, fn func(context.Context) (T, error)) <-chan *T {
	out := make(chan *T, 1)
	logger := loggerFromContext(ctx)
	if logger == nil {
		logger = s.logger
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(out)

		start := time.Now()
		v, err := fn(ctx)
		if err != nil {
			category := client.CategorizeError(err)
			observability.AbsentResultsTotal.WithLabelValues(op, string(category)).Inc()
			logger.Warn("weather fetch returned no data",
				append(fields,
					zap.String("operation", op),
					zap.String("category", string(category)),
					zap.Error(err))...)
			out <- nil
			return
		}
		logger.Debug("weather fetch resolved",
			append(fields, zap.String("operation", op), zap.Duration("duration", time.Since(start)))...)
		out <- &v
	}()
	return out
}
