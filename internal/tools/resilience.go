package tools

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aristath/mofagent/internal/config"
	"github.com/aristath/mofagent/internal/logging"
)

// RetryPolicy configures exponential backoff for compute-service calls.
type RetryPolicy struct {
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 2min)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// RetryPolicyFromConfig converts the configuration section, keeping defaults
// for unset fields.
func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.InitialIntervalMS > 0 {
		p.InitialInterval = time.Duration(cfg.InitialIntervalMS) * time.Millisecond
	}
	if cfg.MaxIntervalMS > 0 {
		p.MaxInterval = time.Duration(cfg.MaxIntervalMS) * time.Millisecond
	}
	if cfg.MaxElapsedSeconds > 0 {
		p.MaxElapsedTime = time.Duration(cfg.MaxElapsedSeconds) * time.Second
	}
	if cfg.Multiplier > 0 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.RandomizationFactor > 0 {
		p.RandomizationFactor = cfg.RandomizationFactor
	}
	return p
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = p.MaxElapsedTime
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.RandomizationFactor
	return backoff.WithContext(b, ctx)
}

// BreakerRegistry manages one circuit breaker per compute service.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *slog.Logger
}

// NewBreakerRegistry creates a new circuit breaker registry.
func NewBreakerRegistry(logger *slog.Logger) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logging.OrNop(logger),
	}
}

// Get returns the circuit breaker for the named service, creating it on first use.
func (r *BreakerRegistry) Get(service string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[service]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        service,
		MaxRequests: 3,                // Probe requests allowed while half-open
		Interval:    0,                // Never clear counts while closed
		Timeout:     30 * time.Second, // Open period before probing again
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change", "service", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Caller cancellation and rejected requests say nothing about service health
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			var se *StatusError
			if errors.As(err, &se) && se.Code < 500 {
				return true
			}
			return false
		},
	})

	r.breakers[service] = cb
	return cb
}

// withRetry runs attempt through the breaker with exponential backoff.
// Client errors (4xx), an open breaker and context cancellation stop retrying.
func withRetry(ctx context.Context, cb *gobreaker.CircuitBreaker, policy RetryPolicy, attempt func() ([]byte, error)) ([]byte, error) {
	var body []byte

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		result, err := cb.Execute(func() (interface{}, error) {
			return attempt()
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			var se *StatusError
			if errors.As(err, &se) && se.Code < 500 {
				return backoff.Permanent(err)
			}
			return err
		}

		body = result.([]byte)
		return nil
	}

	err := backoff.Retry(operation, policy.backOff(ctx))
	return body, err
}
