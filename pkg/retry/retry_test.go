package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("connection reset")
var errGone = errors.New("gone")

// recordingSleep counts delays without waiting.
type recordingSleep struct {
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func isGone(err error) bool { return errors.Is(err, errGone) }

func TestRetryer_Success(t *testing.T) {
	rec := &recordingSleep{}
	retryer := New(Config{MaxAttempts: 3, Delay: time.Second}, WithSleep(rec.sleep))

	attempts := 0
	out := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return nil
	})

	if out.State != StateSucceeded {
		t.Errorf("Expected SUCCEEDED, got %v", out.State)
	}
	if attempts != 1 || out.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d/%d", attempts, out.Attempts)
	}
	if len(rec.delays) != 0 {
		t.Errorf("Expected no delays, got %d", len(rec.delays))
	}
}

func TestRetryer_TransientThenSuccess(t *testing.T) {
	for _, n := range []int{1, 2, 4} {
		rec := &recordingSleep{}
		retryer := New(Config{MaxAttempts: n + 1, Delay: 10 * time.Millisecond}, WithSleep(rec.sleep))

		attempts := 0
		out := retryer.Do(context.Background(), func(context.Context) error {
			attempts++
			if attempts <= n {
				return errTransient
			}
			return nil
		})

		if out.State != StateSucceeded {
			t.Errorf("n=%d: expected SUCCEEDED, got %v", n, out.State)
		}
		if out.Attempts != n+1 {
			t.Errorf("n=%d: expected %d attempts, got %d", n, n+1, out.Attempts)
		}
		if len(rec.delays) != n {
			t.Errorf("n=%d: expected %d delays, got %d", n, n, len(rec.delays))
		}
	}
}

func TestRetryer_Exhausted(t *testing.T) {
	rec := &recordingSleep{}
	var failures []int
	retryer := New(Config{MaxAttempts: 4, Delay: 10 * time.Millisecond},
		WithSleep(rec.sleep),
		WithOnFailure(func(attempt int, err error) { failures = append(failures, attempt) }),
	)

	attempts := 0
	out := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return errTransient
	})

	if out.State != StateExhausted {
		t.Errorf("Expected EXHAUSTED, got %v", out.State)
	}
	if attempts != 4 {
		t.Errorf("Expected 4 attempts, got %d", attempts)
	}
	if !errors.Is(out.Err, errTransient) {
		t.Errorf("Expected last error, got %v", out.Err)
	}
	if len(rec.delays) != 3 {
		t.Errorf("Expected no delay after the final attempt, got %d delays", len(rec.delays))
	}
	if len(failures) != 4 || failures[3] != 4 {
		t.Errorf("Expected OnFailure for every attempt, got %v", failures)
	}
}

func TestRetryer_PermanentShortCircuits(t *testing.T) {
	rec := &recordingSleep{}
	failureCalls := 0
	retryer := New(Config{MaxAttempts: 10, Delay: time.Second},
		WithSleep(rec.sleep),
		WithPermanent(isGone),
		WithOnFailure(func(int, error) { failureCalls++ }),
	)

	attempts := 0
	out := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return errGone
	})

	if out.State != StatePermanent {
		t.Errorf("Expected PERMANENT, got %v", out.State)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
	if len(rec.delays) != 0 || failureCalls != 0 {
		t.Errorf("Permanent failure should neither delay nor report transient failure")
	}
}

func TestRetryer_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	retryer := New(Config{MaxAttempts: 10, Delay: time.Hour},
		WithSleep(func(ctx context.Context, d time.Duration) error {
			cancel()
			return Sleep(ctx, d)
		}),
	)

	attempts := 0
	out := retryer.Do(ctx, func(context.Context) error {
		attempts++
		return errTransient
	})

	if out.State != StateCanceled {
		t.Errorf("Expected CANCELED, got %v", out.State)
	}
	if attempts != 1 {
		t.Errorf("Expected cancellation during the first delay, got %d attempts", attempts)
	}
	if !errors.Is(out.Err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", out.Err)
	}
}

func TestRetryer_CanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	out := New(DefaultConfig()).Do(ctx, func(context.Context) error {
		called = true
		return nil
	})

	if called {
		t.Error("fn should not run with an ended context")
	}
	if out.State != StateCanceled || out.Attempts != 0 {
		t.Errorf("Expected CANCELED after 0 attempts, got %v after %d", out.State, out.Attempts)
	}
}

func TestRetryer_FixedAndGrowingDelay(t *testing.T) {
	fixed := &recordingSleep{}
	New(Config{MaxAttempts: 4, Delay: 100 * time.Millisecond}, WithSleep(fixed.sleep)).
		Do(context.Background(), func(context.Context) error { return errTransient })

	for i, d := range fixed.delays {
		if d != 100*time.Millisecond {
			t.Errorf("fixed delay %d = %v, want 100ms", i, d)
		}
	}

	growing := &recordingSleep{}
	New(Config{MaxAttempts: 5, Delay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 300 * time.Millisecond},
		WithSleep(growing.sleep)).
		Do(context.Background(), func(context.Context) error { return errTransient })

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	if len(growing.delays) != len(want) {
		t.Fatalf("Expected %d delays, got %d", len(want), len(growing.delays))
	}
	for i := range want {
		if growing.delays[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i, growing.delays[i], want[i])
		}
	}
}

func TestTransition(t *testing.T) {
	cfg := Config{MaxAttempts: 3}

	tests := []struct {
		name     string
		attempts int
		err      error
		want     State
	}{
		{"success", 1, nil, StateSucceeded},
		{"success on last attempt", 3, nil, StateSucceeded},
		{"transient with budget", 1, errTransient, StateAttempting},
		{"transient at budget", 3, errTransient, StateExhausted},
		{"permanent with budget", 1, errGone, StatePermanent},
		{"permanent at budget", 3, errGone, StatePermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Transition(cfg, tt.attempts, tt.err, isGone); got != tt.want {
				t.Errorf("Transition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	r := New(Config{MaxAttempts: 0, Delay: -time.Second})
	if r.Config().MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1", r.Config().MaxAttempts)
	}
	if r.Config().Delay != 0 {
		t.Errorf("Delay = %v, want 0", r.Config().Delay)
	}
	if r.Config().Multiplier != 1 {
		t.Errorf("Multiplier = %v, want 1", r.Config().Multiplier)
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Sleep() = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() on canceled ctx = %v", err)
	}
}

func TestState_String(t *testing.T) {
	if StateExhausted.String() != "EXHAUSTED" || State(99).String() != "UNKNOWN" {
		t.Error("unexpected State.String() output")
	}
}
