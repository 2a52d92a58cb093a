// Package gateway exposes synthesis over HTTP and websocket and owns the
// caller-side policy: retries with backoff and the circuit breaker.
package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/lexiqai/volc-tts-gateway/internal/observability"
	"github.com/lexiqai/volc-tts-gateway/internal/resilience"
	"github.com/lexiqai/volc-tts-gateway/internal/tts"
)

// Caller runs synthesis calls through the retry and circuit-breaker policy.
type Caller struct {
	client  tts.TTSClient
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig
	logger  zerolog.Logger
}

// NewCaller wraps client. Only transport failures and timeouts count
// against the breaker.
func NewCaller(client tts.TTSClient, breaker *resilience.CircuitBreaker, retry *resilience.RetryConfig, logger zerolog.Logger) *Caller {
	breaker.SetFailurePredicate(tts.IsRetryable)
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}
	return &Caller{
		client:  client,
		breaker: breaker,
		retry:   retry,
		logger:  logger,
	}
}

// Breaker returns the circuit breaker guarding the service.
func (c *Caller) Breaker() *resilience.CircuitBreaker { return c.breaker }

// Synthesize runs req. A failed attempt is retried only when the error is
// retryable and no audio reached sink yet; once audio has been delivered a
// retry would duplicate it.
func (c *Caller) Synthesize(ctx context.Context, surface string, req tts.Request, sink tts.Sink) (*tts.Summary, error) {
	delivered := 0
	counting := func(chunk *tts.AudioChunk) error {
		delivered++
		if sink == nil {
			return nil
		}
		return sink(chunk)
	}

	var sum *tts.Summary
	err := resilience.Retry(ctx, func(attempt int) error {
		if attempt > 0 {
			observability.RecordRetry(surface)
			c.logger.Warn().
				Str("surface", surface).
				Int("attempt", attempt+1).
				Msg("Retrying synthesis")
		}
		return c.breaker.Call(func() error {
			var err error
			sum, err = c.client.Stream(ctx, req, counting)
			return err
		})
	}, c.retry, func(err error) bool {
		return delivered == 0 && ctx.Err() == nil && tts.IsRetryable(err)
	})
	return sum, err
}

// StatusFor maps a failure that happened before any audio was written to an
// HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, tts.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
