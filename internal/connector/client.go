package connector

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/openshelf/catalogd/internal/metrics"
)

const defaultTimeout = 30 * time.Second

const acceptHeader = "application/json, application/xml, text/xml, text/html, */*"

// ClientConfig controls the shared connector HTTP client.
type ClientConfig struct {
	UserAgent     string
	Timeout       time.Duration
	MaxRetries    int
	RespectRobots bool
}

// Response is the outcome of one fetch. HTTP error statuses are data, not
// errors: connectors decide whether a 404 means end-of-catalog or failure.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// OK reports whether the response carries a 2xx status.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client executes connector fetches through a Colly collector with a shared
// transport, per-request timeout, and retry with capped exponential backoff.
type Client struct {
	cfg    ClientConfig
	policy *RetryPolicy
	base   *colly.Collector
}

// NewClient builds a Client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	// colly v2.1.0's Async option sets Async=true regardless of its argument;
	// synchronous collection is the default, so pass no option.
	c := colly.NewCollector()
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	// Retries and health checks revisit URLs; clones share the visit store.
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())
	return &Client{
		cfg:    cfg,
		policy: NewRetryPolicy(cfg.MaxRetries),
		base:   c,
	}
}

// Get fetches the URL once. Network failures return an error; HTTP error
// statuses return a Response with the status set.
func (c *Client) Get(ctx context.Context, url string) (Response, error) {
	var (
		result   Response
		fetchErr error
	)
	collector := c.base.Clone()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = c.base.IgnoreRobotsTxt
	collector.SetRequestTimeout(c.cfg.Timeout)

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", acceptHeader)
	})
	collector.OnResponse(func(r *colly.Response) {
		result = Response{
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			// The server answered; surface the status to the caller.
			result = Response{
				StatusCode: r.StatusCode,
				Headers:    r.Headers.Clone(),
				Body:       append([]byte(nil), r.Body...),
			}
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case visitErr := <-done:
		if fetchErr != nil {
			return Response{}, fmt.Errorf("fetch %s: %w", url, fetchErr)
		}
		if result.StatusCode == 0 && visitErr != nil {
			return Response{}, fmt.Errorf("fetch %s: %w", url, visitErr)
		}
	}
	metrics.ObserveConnectorRequest(result.StatusCode)
	return result, nil
}

// GetWithRetry fetches the URL, retrying 429 responses and network errors
// with capped exponential backoff up to the policy's attempt limit. Other
// HTTP error statuses are returned to the caller un-retried.
func (c *Client) GetWithRetry(ctx context.Context, url string) (Response, error) {
	maxRetries := c.policy.MaxRetries()
	var (
		lastResp Response
		lastErr  error
	)
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.policy.Backoff(attempt, lastResp.StatusCode == http.StatusTooManyRequests)
			if err := sleep(ctx, wait); err != nil {
				return Response{}, err
			}
		}
		resp, err := c.Get(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return Response{}, err
			}
			lastErr = err
			lastResp = Response{}
			continue
		}
		lastErr = nil
		lastResp = resp
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
	}
	if lastErr != nil {
		return Response{}, lastErr
	}
	return lastResp, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("backoff wait: %w", ctx.Err())
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
