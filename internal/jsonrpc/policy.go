package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sony/gobreaker/v2"
)

// RetryPolicy describes "retry N times with increasing delay, then give up".
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first. Values
	// below 1 mean a single try.
	Attempts uint

	// InitialDelay is the wait before the second try; it doubles per try.
	InitialDelay time.Duration

	// MaxDelay caps the wait between tries. Zero means no cap.
	MaxDelay time.Duration
}

// options builds retry-go options. Only connection-class failures are retried.
func (p RetryPolicy) options(ctx context.Context, onRetry func(n uint, err error)) []retry.Option {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(p.InitialDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isConnectionClass),
	}
	if p.MaxDelay > 0 {
		opts = append(opts, retry.MaxDelay(p.MaxDelay))
	}
	if onRetry != nil {
		opts = append(opts, retry.OnRetry(onRetry))
	}
	return opts
}

// BreakerConfig configures the optional circuit breaker around SendRequest.
type BreakerConfig struct {
	// Enabled turns the breaker on.
	Enabled bool

	// MaxFailures is the number of consecutive connection-class failures
	// that opens the circuit. Default: 5.
	MaxFailures uint32

	// OpenTimeout is how long the circuit stays open before a trial request. Default: 30s.
	OpenTimeout time.Duration

	// Interval clears failure counts periodically while closed. Default: 60s.
	Interval time.Duration
}

// Default breaker settings.
const (
	defaultBreakerMaxFailures uint32 = 5
	defaultBreakerOpenTimeout        = 30 * time.Second
	defaultBreakerInterval           = 60 * time.Second
)

// newBreaker builds the operation circuit breaker, or nil when disabled.
//
// Only transport failures count against the circuit: a RemoteError or a
// timeout proves the server is reachable.
func newBreaker(name string, cfg BreakerConfig, onChange func(from, to gobreaker.State)) *gobreaker.CircuitBreaker[json.RawMessage] {
	if !cfg.Enabled {
		return nil
	}

	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = defaultBreakerOpenTimeout
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultBreakerInterval
	}

	return gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if onChange != nil {
				onChange(from, to)
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !(isConnectionClass(err) || errors.Is(err, ErrConnectionLost))
		},
	})
}

// isBreakerRejection reports whether err came from an open or saturated circuit.
func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
