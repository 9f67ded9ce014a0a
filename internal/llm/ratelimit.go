package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedClient enforces a requests-per-minute budget in front of
// another Client. Callers block until a token is available or ctx ends.
type RateLimitedClient struct {
	next    Client
	limiter *rate.Limiter
}

// NewRateLimitedClient wraps next with a token bucket refilling at
// requestsPerMinute. Returns next unchanged when requestsPerMinute <= 0.
func NewRateLimitedClient(next Client, requestsPerMinute int) Client {
	if requestsPerMinute <= 0 {
		return next
	}
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedClient{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst),
	}
}

// Name returns the wrapped client's name.
func (c *RateLimitedClient) Name() string { return c.next.Name() }

// Complete waits for the limiter before delegating.
func (c *RateLimitedClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return c.next.Complete(ctx, req)
}
