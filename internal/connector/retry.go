// Package connector implements the source-specific catalog scrapers and the
// shared HTTP client they fetch through.
package connector

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// RetryPolicy computes jittered exponential backoff for connector fetches.
// Rate-limited responses (HTTP 429) back off longer than transient network
// errors; other HTTP errors are never retried and are handled by callers.
type RetryPolicy struct {
	maxRetries       int
	rateLimitedBase  time.Duration
	rateLimitedMax   time.Duration
	networkErrorBase time.Duration
	networkErrorMax  time.Duration
}

// NewRetryPolicy builds a policy with the defaults used by every connector.
func NewRetryPolicy(maxRetries int) *RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryPolicy{
		maxRetries:       maxRetries,
		rateLimitedBase:  time.Second,
		rateLimitedMax:   30 * time.Second,
		networkErrorBase: 500 * time.Millisecond,
		networkErrorMax:  10 * time.Second,
	}
}

// MaxRetries bounds the total number of retry attempts per request.
func (p *RetryPolicy) MaxRetries() int {
	return p.maxRetries
}

// Backoff returns the wait before retry attempt n (1-based). rateLimited
// selects the longer 429 schedule.
func (p *RetryPolicy) Backoff(attempt int, rateLimited bool) time.Duration {
	base, limit := p.networkErrorBase, p.networkErrorMax
	if rateLimited {
		base, limit = p.rateLimitedBase, p.rateLimitedMax
	}
	delay := float64(base) * math.Pow(2, float64(attempt))
	if delay > float64(limit) {
		delay = float64(limit)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
