package http

import (
	"context"
	"sync/atomic"
	"time"
)

// InFlightTracker counts requests being served, event streams included.
// Shutdown drains it before telemetry is flushed.
type InFlightTracker struct {
	count atomic.Int64
}

// Track runs fn with the count raised by one.
func (t *InFlightTracker) Track(fn func()) {
	t.count.Add(1)
	defer t.count.Add(-1)
	fn()
}

// Count returns the current in-flight count.
func (t *InFlightTracker) Count() int64 {
	return t.count.Load()
}

// WaitForZero polls every checkInterval until the count is zero or ctx is done.
func (t *InFlightTracker) WaitForZero(ctx context.Context, checkInterval time.Duration) error {
	if t.Count() == 0 {
		return nil
	}
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if t.Count() == 0 {
				return nil
			}
		}
	}
}

// inFlight is the process-wide tracker fed by MetricsMiddleware.
var inFlight = &InFlightTracker{}

// InFlightCount returns the number of requests MetricsMiddleware is currently serving.
func InFlightCount() int64 {
	return inFlight.Count()
}

// WaitForInFlight blocks until MetricsMiddleware reports no requests or ctx is done.
func WaitForInFlight(ctx context.Context, checkInterval time.Duration) error {
	return inFlight.WaitForZero(ctx, checkInterval)
}
