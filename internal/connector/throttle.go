package connector

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Inter-request delays shared by the scraping connectors.
const (
	pageDelay   = 1500 * time.Millisecond
	detailDelay = 400 * time.Millisecond
)

// Throttle enforces a fixed minimum interval between requests to one source.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle builds a throttle that releases one request per interval. The
// first call passes immediately.
func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		return &Throttle{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next request slot, respecting the context.
func (t *Throttle) Wait(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle wait: %w", err)
	}
	return nil
}
