package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"market_maker/internal/domain"
)

func TestCalculateBackoff(t *testing.T) {
	cases := []struct {
		retry int
		want  time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{20, 60 * time.Second},
	}
	for _, c := range cases {
		if got := CalculateBackoff(c.retry); got != c.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", c.retry, got, c.want)
		}
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, Multiplier: 2}

	if got := p.Delay(0); got != 100*time.Millisecond {
		t.Errorf("Delay(0) = %v", got)
	}
	if got := p.Delay(3); got != 800*time.Millisecond {
		t.Errorf("Delay(3) = %v", got)
	}
}

func TestRetry(t *testing.T) {
	fast := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 1}

	t.Run("Succeeds First Try", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fast, func(ctx context.Context) error {
			calls++
			return nil
		})
		if err != nil || calls != 1 {
			t.Errorf("expected one successful call, got calls=%d err=%v", calls, err)
		}
	})

	t.Run("Retries Transient Failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fast, func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return domain.NewExchangeError("place", errors.New("timeout"))
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Errorf("expected success on third call, got calls=%d err=%v", calls, err)
		}
	})

	t.Run("Exhausts Budget", func(t *testing.T) {
		calls := 0
		failure := domain.NewExchangeError("place", errors.New("down"))
		err := Retry(context.Background(), fast, func(ctx context.Context) error {
			calls++
			return failure
		})
		if calls != 3 {
			t.Errorf("expected 3 attempts, got %d", calls)
		}
		if !errors.Is(err, failure) {
			t.Errorf("expected last error surfaced, got %v", err)
		}
	})

	t.Run("Rejection Not Retried", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fast, func(ctx context.Context) error {
			calls++
			return domain.NewRejectionError("place", errors.New("bad price"))
		})
		if calls != 1 {
			t.Errorf("rejections must not be retried, got %d attempts", calls)
		}
		if err == nil {
			t.Error("rejection must surface immediately")
		}
	})

	t.Run("Context Cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		slow := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Hour, Multiplier: 1}
		go cancel()
		err := Retry(ctx, slow, func(ctx context.Context) error {
			calls++
			return domain.NewExchangeError("place", errors.New("down"))
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}
