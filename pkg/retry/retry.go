// Package retry provides a bounded retry state machine with error classification.
package retry

import (
	"context"
	"math"
	"time"
)

// State is the position of a retried operation in its lifecycle.
type State int

const (
	// StateAttempting means another attempt will be made.
	StateAttempting State = iota
	// StateSucceeded means the last attempt returned no error.
	StateSucceeded
	// StatePermanent means the last error was classified as not worth retrying.
	StatePermanent
	// StateExhausted means every allowed attempt failed with a transient error.
	StateExhausted
	// StateCanceled means the context ended before the operation settled.
	StateCanceled
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateAttempting:
		return "ATTEMPTING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StatePermanent:
		return "PERMANENT"
	case StateExhausted:
		return "EXHAUSTED"
	case StateCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// Config defines retry behavior configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first one
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// Delay is the wait between a failed attempt and the next one
	Delay time.Duration `yaml:"delay" json:"delay"`

	// MaxDelay caps the delay when Multiplier grows it
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Multiplier scales the delay after each failure; values <= 1 keep it fixed
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
}

// DefaultConfig returns the fixed back-off used for object fetches.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Delay:       500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  1,
	}
}

// Outcome is the terminal result of Do.
type Outcome struct {
	State    State
	Attempts int
	// Err is the last error seen, or the context error for StateCanceled.
	Err error
}

// Retryer drives an operation through the retry state machine.
type Retryer struct {
	config    Config
	permanent func(error) bool
	onFailure func(attempt int, err error)
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option configures a Retryer.
type Option func(*Retryer)

// WithPermanent sets the classifier for errors that must not be retried.
func WithPermanent(fn func(error) bool) Option {
	return func(r *Retryer) { r.permanent = fn }
}

// WithOnFailure registers a callback invoked for every transient failure,
// including the one that exhausts the budget.
func WithOnFailure(fn func(attempt int, err error)) Option {
	return func(r *Retryer) { r.onFailure = fn }
}

// WithSleep replaces the context-aware timer used between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Retryer) { r.sleep = fn }
}

// New creates a new Retryer with the given configuration
func New(config Config, opts ...Option) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.Delay < 0 {
		config.Delay = 0
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 1
	}

	r := &Retryer{
		config:    config,
		permanent: func(error) bool { return false },
		sleep:     Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective configuration.
func (r *Retryer) Config() Config {
	return r.config
}

// Transition maps the result of an attempt to the next state. It does not
// consider context cancellation; Do handles that separately.
func Transition(config Config, attempts int, err error, permanent func(error) bool) State {
	switch {
	case err == nil:
		return StateSucceeded
	case permanent != nil && permanent(err):
		return StatePermanent
	case attempts >= config.MaxAttempts:
		return StateExhausted
	default:
		return StateAttempting
	}
}

// Do runs fn until it succeeds, fails permanently, exhausts the attempt
// budget, or ctx ends. Attempts are strictly sequential.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) Outcome {
	var (
		attempts int
		lastErr  error
	)

	for {
		if err := ctx.Err(); err != nil {
			return Outcome{State: StateCanceled, Attempts: attempts, Err: err}
		}

		err := fn(ctx)
		attempts++
		if err != nil {
			lastErr = err
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Outcome{State: StateCanceled, Attempts: attempts, Err: ctxErr}
			}
		}

		state := Transition(r.config, attempts, err, r.permanent)
		if state == StateAttempting || state == StateExhausted {
			if r.onFailure != nil {
				r.onFailure(attempts, err)
			}
		}
		if state != StateAttempting {
			return Outcome{State: state, Attempts: attempts, Err: lastErr}
		}

		if err := r.sleep(ctx, r.calculateDelay(attempts)); err != nil {
			return Outcome{State: StateCanceled, Attempts: attempts, Err: err}
		}
	}
}

// calculateDelay returns the wait after the given failed attempt.
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.Delay) * math.Pow(r.config.Multiplier, float64(attempt-1))

	if r.config.MaxDelay > 0 && delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	return time.Duration(delay)
}

// Sleep waits for d or until ctx ends, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
