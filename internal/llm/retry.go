package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

// jitterPercent spreads each backoff step by up to this share of its length.
const jitterPercent = 25

// RetryOptions configures NewRetryingClient. A zero RequestsPerMinute
// disables limiting; BaseDelay is the first backoff step and doubles per
// attempt.
type RetryOptions struct {
	RequestsPerMinute int
	MaxRetries        int
	BaseDelay         time.Duration
	Logger            *slog.Logger
}

// RetryingClient wraps a Client with a request rate limit and exponential
// backoff with jitter on transport errors and 429/5xx responses.
type RetryingClient struct {
	next       Client
	limiter    *rate.Limiter
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

func NewRetryingClient(next Client, opts RetryOptions) *RetryingClient {
	c := &RetryingClient{
		next:       next,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		logger:     opts.Logger,
	}
	if opts.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.baseDelay <= 0 {
		c.baseDelay = time.Second
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

func (c *RetryingClient) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	b := retry.WithMaxRetries(uint64(c.maxRetries), retry.WithJitterPercent(jitterPercent, retry.NewExponential(c.baseDelay)))

	var (
		out     string
		lastErr error
		attempt int
	)
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		res, err := c.next.Generate(ctx, req)
		if err == nil {
			out = res
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			return err
		}
		c.logger.Debug("retrying llm request", "attempt", attempt, "max_retries", c.maxRetries, "error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		if lastErr != nil && ctx.Err() == nil {
			return "", lastErr
		}
		return "", err
	}
	return out, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return true
}
