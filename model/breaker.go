package model

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/hupe1980/agentrelay/logging"
)

// Default circuit breaker settings.
const (
	defaultBreakerMaxFailures uint32        = 5
	defaultBreakerTimeout     time.Duration = 30 * time.Second
	defaultBreakerInterval    time.Duration = 60 * time.Second
)

// BreakerOptions configure the circuit breaker behavior.
type BreakerOptions struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration
	// Interval is the cyclic period of the closed state for clearing failure
	// counts. If 0, failures never reset until the circuit opens.
	Interval time.Duration
	// Logger receives state change notices.
	Logger logging.Logger
}

// BreakerRunner wraps a Runner with circuit breaker protection. When the
// wrapped runner fails repeatedly the circuit opens and subsequent calls fail
// fast without reaching the provider, preventing retry storms.
type BreakerRunner struct {
	inner   Runner
	breaker *gobreaker.CircuitBreaker[*Result]
	logger  logging.Logger
}

// NewBreakerRunner wraps inner with a circuit breaker. Zero-valued options
// fall back to defaults.
func NewBreakerRunner(inner Runner, optFns ...func(o *BreakerOptions)) *BreakerRunner {
	opts := BreakerOptions{
		MaxFailures: defaultBreakerMaxFailures,
		Timeout:     defaultBreakerTimeout,
		Interval:    defaultBreakerInterval,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	logger := opts.Logger
	cb := gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name:        "runner:" + inner.Info().Name,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    opts.Interval,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &BreakerRunner{inner: inner, breaker: cb, logger: logger}
}

// Complete implements Runner. Calls are routed through the circuit breaker.
func (b *BreakerRunner) Complete(ctx context.Context, req Request) (*Result, error) {
	return b.breaker.Execute(func() (*Result, error) {
		return b.inner.Complete(ctx, req)
	})
}

// Stream implements Runner. The stream is started only when the circuit
// accepts calls; its terminal outcome is recorded so streaming failures also
// trip the breaker.
func (b *BreakerRunner) Stream(ctx context.Context, req Request) (<-chan StreamEvent, <-chan error) {
	if b.breaker.State() == gobreaker.StateOpen {
		events := make(chan StreamEvent)
		errCh := make(chan error, 1)
		close(events)
		errCh <- gobreaker.ErrOpenState
		close(errCh)
		return events, errCh
	}

	events, innerErr := b.inner.Stream(ctx, req)
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		err, ok := <-innerErr
		// Feed the stream outcome into the breaker's failure accounting.
		_, _ = b.breaker.Execute(func() (*Result, error) { return nil, err })
		if ok && err != nil {
			errCh <- err
		}
	}()
	return events, errCh
}

// Info implements Runner.
func (b *BreakerRunner) Info() Info { return b.inner.Info() }
