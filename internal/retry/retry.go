// Package retry wraps generator calls with bounded exponential backoff on
// rate-limit signals. Every other failure propagates immediately.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/PabloGalante/compass-agent/internal/domain"
	"github.com/PabloGalante/compass-agent/internal/observability"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxJitter   = time.Second
)

// Policy configures Do. The zero value behaves like Default.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxJitter   time.Duration

	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	// Jitter returns a random duration in [0, max).
	Jitter func(max time.Duration) time.Duration
	// Retryable decides whether an error is worth another attempt.
	Retryable func(error) bool
}

func Default() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxJitter:   DefaultMaxJitter,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxJitter < 0 {
		p.MaxJitter = 0
	}
	if p.Sleep == nil {
		p.Sleep = sleep
	}
	if p.Jitter == nil {
		p.Jitter = jitter
	}
	if p.Retryable == nil {
		p.Retryable = IsRateLimited
	}
	return p
}

// Backoff is the wait after the failed attempt with 0-based index attempt,
// before jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	return (time.Duration(1) << attempt) * p.BaseDelay
}

// Do runs op until it succeeds, fails with a non-retryable error, or
// MaxAttempts is exhausted, in which case the last error is returned.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	ctx, span := otel.Tracer("compass/retry").Start(ctx, "retry.Do")
	defer span.End()

	log := observability.LoggerFromContext(ctx)

	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		span.AddEvent("attempt", trace.WithAttributes(attribute.Int("attempt", attempt+1)))

		res, err := op(ctx)
		if err == nil {
			observability.RetryAttempts.WithLabelValues("ok").Inc()
			span.SetAttributes(attribute.Int("attempts", attempt+1))
			return res, nil
		}
		lastErr = err

		if !p.Retryable(err) {
			observability.RetryAttempts.WithLabelValues("fatal").Inc()
			span.RecordError(err)
			return zero, err
		}
		observability.RetryAttempts.WithLabelValues("rate_limited").Inc()

		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.Backoff(attempt) + p.Jitter(p.MaxJitter)
		log.Warn("generator rate limited, backing off",
			"attempt", attempt+1,
			"max_attempts", p.MaxAttempts,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
		observability.RetryBackoff.Observe(delay.Seconds())
		if err := p.Sleep(ctx, delay); err != nil {
			span.RecordError(err)
			return zero, err
		}
	}

	span.RecordError(lastErr)
	span.SetAttributes(attribute.Int("attempts", p.MaxAttempts))
	log.Error("retry budget exhausted", "attempts", p.MaxAttempts, "error", lastErr)
	return zero, lastErr
}

// rateLimitStatus matches a 429 that reads as an HTTP status, not one buried
// in an address or port.
var rateLimitStatus = regexp.MustCompile(`(?i)(?:status|code|error|http)\W{0,3}429\b|\b429\s+too many requests`)

// IsRateLimited classifies err as quota or rate exhaustion. Provider errors
// are trusted; anything else falls back to the HTTP 429 and
// RESOURCE_EXHAUSTED signatures in the message.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe.RateLimited()
	}
	msg := err.Error()
	return strings.Contains(msg, "RESOURCE_EXHAUSTED") || rateLimitStatus.MatchString(msg)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}
