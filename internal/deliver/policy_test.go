package deliver

import (
	"errors"
	"testing"
	"time"
)

func TestPolicyDecide(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()
	errBoom := errors.New("boom")

	cases := []struct {
		name    string
		attempt int
		retry   bool
		after   time.Duration
	}{
		{"first failure waits base delay", 1, true, time.Second},
		{"second failure doubles", 2, true, 2 * time.Second},
		{"third failure gives up", 3, false, 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := p.Decide(tc.attempt, errBoom)
			if d.Retry != tc.retry {
				t.Fatalf("attempt %d: retry = %v, want %v", tc.attempt, d.Retry, tc.retry)
			}
			if d.Retry && d.After != tc.after {
				t.Fatalf("attempt %d: after = %v, want %v", tc.attempt, d.After, tc.after)
			}
			if !d.Retry && d.Err == nil {
				t.Fatalf("attempt %d: give-up decision has nil error", tc.attempt)
			}
		})
	}
}

func TestPolicyTerminalError(t *testing.T) {
	t.Parallel()
	d := DefaultPolicy().Decide(3, errors.New("network down"))
	if d.Retry {
		t.Fatal("expected give-up after max attempts")
	}
	if got := d.Err.Error(); got != "failed-after-3" {
		t.Fatalf("terminal error = %q, want %q", got, "failed-after-3")
	}
}

func TestPolicyNormalize(t *testing.T) {
	t.Parallel()
	p := Policy{}.Normalize()
	if p.MaxAttempts != 3 || p.BaseDelay != time.Second || p.Multiplier != 2 {
		t.Fatalf("unexpected defaults: %+v", p)
	}

	custom := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, Multiplier: 3}.Normalize()
	if custom.MaxAttempts != 5 || custom.BaseDelay != 100*time.Millisecond || custom.Multiplier != 3 {
		t.Fatalf("normalize clobbered explicit values: %+v", custom)
	}

	d := custom.Decide(3, errors.New("x"))
	if !d.Retry || d.After != 900*time.Millisecond {
		t.Fatalf("after third failure with base 100ms multiplier 3: %+v", d)
	}
}
