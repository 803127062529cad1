// internal/llmclient/limiter.go
package llmclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/aibrowser-cli/api/schemas"
)

// RateLimitedClient spaces calls to the wrapped client so a provider quota
// expressed in requests per minute is never exceeded.
type RateLimitedClient struct {
	next    schemas.LLMClient
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewRateLimitedClient wraps next with a limiter of requestsPerMinute and a burst of one.
func NewRateLimitedClient(next schemas.LLMClient, requestsPerMinute int, logger *zap.Logger) *RateLimitedClient {
	return &RateLimitedClient{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
		logger:  logger.Named("llm_client.limiter"),
	}
}

// Invoke waits for a token, then delegates.
func (c *RateLimitedClient) Invoke(ctx context.Context, messages []schemas.Message) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		c.logger.Debug("Context done while waiting for rate limiter", zap.Error(err))
		return "", fmt.Errorf("rate limiter wait: %w", err)
	}
	return c.next.Invoke(ctx, messages)
}

func (c *RateLimitedClient) Close() error { return c.next.Close() }
