package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/balandzin/Weather-API/internal/models"
	"github.com/balandzin/Weather-API/internal/observability"
	"github.com/balandzin/Weather-API/internal/owm"
)

// WeatherClient is the synchronous OpenWeatherMap surface. Every call returns a typed
// error; service.WeatherService collapses those errors into absent results.
type WeatherClient interface {
	CurrentByCoordinate(ctx context.Context, coord models.Coordinate) (models.CurrentConditions, error)
	CurrentByCity(ctx context.Context, city string) (models.CurrentConditions, error)
	Forecast(ctx context.Context, city string) (models.ForecastBundle, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
	ErrMalformedRequest = errors.New("malformed request")
	ErrShapeMismatch    = owm.ErrShapeMismatch
	ErrCircuitOpen      = errors.New("circuit breaker open")
)

const (
	endpointCurrent  = "weather"
	endpointForecast = "forecast"

	// DefaultBaseURL is the OpenWeatherMap 2.5 API root.
	DefaultBaseURL = "https://api.openweathermap.org/data/2.5"
)

// Options tunes an OpenWeatherClient. Zero values select the defaults: one attempt,
// 10s timeout, no circuit breaker.
type Options struct {
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Breaker        *gobreaker.CircuitBreaker
	HTTPClient     *http.Client
}

type OpenWeatherClient struct {
	apiKey         string
	baseURL        string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *gobreaker.CircuitBreaker
}

func NewOpenWeatherClient(apiKey, baseURL string, opts Options) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 100 * time.Millisecond
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 2 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &OpenWeatherClient{
		apiKey:         apiKey,
		baseURL:        strings.TrimRight(baseURL, "/"),
		timeout:        opts.Timeout,
		client:         httpClient,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		breaker:        opts.Breaker,
	}, nil
}

// NewBreaker builds the circuit breaker used around provider calls. It opens after
// failureThreshold consecutive failures and lets a trial request through after timeout.
func NewBreaker(failureThreshold int, timeout time.Duration) *gobreaker.CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweathermap",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failureThreshold)
		},
		IsSuccessful: breakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.RecordCircuitBreakerTransition(name, from.String(), to.String())
		},
	})
}

// breakerSuccess reports whether err leaves the provider's health untouched. Caller
// mistakes (unknown city, bad key, bad request) and caller cancellation do not trip.
func breakerSuccess(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, ErrLocationNotFound),
		errors.Is(err, ErrInvalidAPIKey),
		errors.Is(err, ErrMalformedRequest),
		errors.Is(err, context.Canceled):
		return true
	}
	return false
}

func (c *OpenWeatherClient) CurrentByCoordinate(ctx context.Context, coord models.Coordinate) (models.CurrentConditions, error) {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(coord.Latitude, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(coord.Longitude, 'f', -1, 64))
	body, err := c.get(ctx, endpointCurrent, params)
	if err != nil {
		return models.CurrentConditions{}, err
	}
	return owm.DecodeCurrent(body)
}

// CurrentByCity sends city verbatim as the q parameter.
func (c *OpenWeatherClient) CurrentByCity(ctx context.Context, city string) (models.CurrentConditions, error) {
	params := url.Values{}
	params.Set("q", city)
	body, err := c.get(ctx, endpointCurrent, params)
	if err != nil {
		return models.CurrentConditions{}, err
	}
	return owm.DecodeCurrent(body)
}

// Forecast fetches the 5-day / 3-hour forecast for city.
func (c *OpenWeatherClient) Forecast(ctx context.Context, city string) (models.ForecastBundle, error) {
	params := url.Values{}
	params.Set("q", city)
	body, err := c.get(ctx, endpointForecast, params)
	if err != nil {
		return models.ForecastBundle{}, err
	}
	return owm.DecodeForecast(body)
}

func (c *OpenWeatherClient) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.WithLabelValues(endpoint).Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.callWithBreaker(ctx, endpoint, params)
		if err == nil {
			return body, nil
		}

		lastErr = err
		if !c.isRetryable(err) {
			return nil, err
		}
	}

	if c.retryAttempts == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *OpenWeatherClient) callWithBreaker(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, endpoint, params)
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.callAPI(ctx, endpoint, params)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, endpoint, params)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}

	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(endpoint, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(endpoint, status).Observe(duration)

	if err := c.handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

func (c *OpenWeatherClient) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded")
}

func (c *OpenWeatherClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + "/" + endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid API URL: %v", ErrMalformedRequest, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: API URL %q needs scheme and host", ErrMalformedRequest, c.baseURL)
	}

	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrMalformedRequest, err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *OpenWeatherClient) handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: HTTP 401", ErrInvalidAPIKey)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrLocationNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey issues one current-conditions call for London and reports 401s.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	params := url.Values{}
	params.Set("q", "London")
	req, err := c.buildRequest(ctx, endpointCurrent, params)
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}
	return nil
}
