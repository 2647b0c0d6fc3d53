package http

import (
	"context"
	"sync/atomic"
	"time"
)

// requestCounter counts requests being served so shutdown can drain them.
type requestCounter struct {
	n atomic.Int64
}

// begin marks one request as started and returns the func that marks it done.
func (c *requestCounter) begin() (done func()) {
	c.n.Add(1)
	return func() { c.n.Add(-1) }
}

func (c *requestCounter) load() int64 {
	return c.n.Load()
}

// drain polls every interval until no request is in flight or ctx is done.
func (c *requestCounter) drain(ctx context.Context, interval time.Duration) error {
	if c.load() == 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if c.load() == 0 {
				return nil
			}
		}
	}
}

// inFlight is fed by MetricsMiddleware.
var inFlight requestCounter

// InFlightCount returns the number of requests being served.
func InFlightCount() int64 {
	return inFlight.load()
}

// WaitForInFlight blocks until in-flight requests reach zero or ctx is done.
func WaitForInFlight(ctx context.Context, checkInterval time.Duration) error {
	return inFlight.drain(ctx, checkInterval)
}
