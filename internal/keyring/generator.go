package keyring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/gchat/internal/metrics"
	"github.com/nextlevelbuilder/gchat/internal/providers"
	"github.com/nextlevelbuilder/gchat/internal/tracing"
)

var (
	// ErrExhaustedCredentials means every rotation attempt failed with a
	// retryable error.
	ErrExhaustedCredentials = errors.New("keyring: credentials exhausted")
	// ErrFatal wraps a non-retryable backend failure.
	ErrFatal = errors.New("keyring: generation failed")
)

// Policy bounds one Generate call.
type Policy struct {
	// MaxAttempts is the retry budget; 0 means twice the pool size.
	MaxAttempts int
	// Backoff is slept after each retryable failure.
	Backoff time.Duration
}

// DefaultPolicy scales the budget with the pool.
func DefaultPolicy(backoff time.Duration) Policy {
	return Policy{Backoff: backoff}
}

// LightPolicy uses a fixed budget regardless of pool size.
func LightPolicy(attempts int, backoff time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Backoff: backoff}
}

// Request is one generation call.
type Request struct {
	UserID   int64
	Messages []providers.Message
}

// Generator calls the backend with the pool's current credential and
// rotates on retryable failures.
type Generator struct {
	pool     *Pool
	provider providers.Provider
	model    string
	sleep    func(context.Context, time.Duration) error
}

// NewGenerator creates a generator over pool. An empty model uses the
// provider default.
func NewGenerator(pool *Pool, provider providers.Provider, model string) *Generator {
	return &Generator{
		pool:     pool,
		provider: provider,
		model:    model,
		sleep:    sleepCtx,
	}
}

// Pool returns the credential pool the generator rotates over.
func (g *Generator) Pool() *Pool { return g.pool }

// Generate returns the cleaned model reply.
func (g *Generator) Generate(ctx context.Context, req Request, policy Policy) (string, error) {
	ctx, span := tracing.Tracer().Start(ctx, "keyring.generate")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", req.UserID))

	n := g.pool.Len()
	if n == 0 {
		span.SetStatus(codes.Error, ErrEmptyPool.Error())
		return "", ErrEmptyPool
	}
	budget := policy.MaxAttempts
	if budget <= 0 {
		budget = 2 * n
	}

	var lastErr error
	attempts := 0
	for budget > 0 {
		idx, key, err := g.pool.Current()
		if err != nil {
			return "", err
		}
		attempts++

		start := time.Now()
		resp, err := g.provider.Chat(ctx, providers.ChatRequest{
			Messages: req.Messages,
			Model:    g.model,
			APIKey:   key,
		})
		outcome := providers.Classify(err)
		metrics.GenerationDuration.WithLabelValues(outcome.String()).Observe(time.Since(start).Seconds())

		switch outcome {
		case providers.OutcomeSuccess:
			span.SetAttributes(attribute.Int("attempts", attempts), attribute.Int("key_index", idx))
			return Clean(resp.Content), nil

		case providers.OutcomeRetryable:
			budget--
			lastErr = err
			reason := "invalid"
			if providers.IsRateLimited(err) {
				reason = "rate_limited"
			}
			next, advErr := g.pool.Advance(ctx, idx)
			if advErr != nil {
				slog.Warn("keyring: persist cursor failed", "error", advErr)
			}
			metrics.KeyRotations.WithLabelValues(reason).Inc()
			slog.Info("keyring: rotating credential",
				"user_id", req.UserID, "reason", reason,
				"from", idx, "to", next, "remaining", budget,
			)
			if budget > 0 {
				if err := g.sleep(ctx, policy.Backoff); err != nil {
					return "", err
				}
			}

		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, "fatal")
			return "", fmt.Errorf("%w: %w", ErrFatal, err)
		}
	}

	span.SetStatus(codes.Error, "exhausted")
	return "", fmt.Errorf("%w after %d attempts: %w", ErrExhaustedCredentials, attempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
