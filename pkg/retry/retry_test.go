package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type declaredErr struct{ retryable bool }

func (e declaredErr) Error() string     { return "declared" }
func (e declaredErr) IsRetryable() bool { return e.retryable }

func fastConfig(retries int) *Config {
	return &Config{
		MaxRetries:   retries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRetries != 2 {
		t.Errorf("expected MaxRetries=2, got %d", cfg.MaxRetries)
	}
	if cfg.InitialDelay != 50*time.Millisecond {
		t.Errorf("expected InitialDelay=50ms, got %v", cfg.InitialDelay)
	}
	if cfg.MaxDelay != 500*time.Millisecond {
		t.Errorf("expected MaxDelay=500ms, got %v", cfg.MaxDelay)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		callCount++
		if callCount < 3 {
			return errors.New("temporary")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestDo_MaxRetriesExhausted(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(2), func() error {
		callCount++
		return fmt.Errorf("attempt %d", callCount)
	})

	if err == nil || err.Error() != "attempt 3" {
		t.Errorf("expected last error 'attempt 3', got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", callCount)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 2}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	callCount := 0
	start := time.Now()
	err := Do(ctx, cfg, func() error {
		callCount++
		return errors.New("error")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("expected quick cancellation, took %v", elapsed)
	}
}

func TestDo_NilConfig(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), nil, func() error {
		callCount++
		return nil
	})
	if err != nil || callCount != 1 {
		t.Errorf("expected single successful call, got %d calls, err %v", callCount, err)
	}
}

func TestDoWithResult_KeepsLastResult(t *testing.T) {
	callCount := 0
	result, err := DoWithResult(context.Background(), fastConfig(1), func() (int, error) {
		callCount++
		return callCount * 10, errors.New("failed")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if result != 20 {
		t.Errorf("expected last result 20, got %d", result)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"declared retryable", declaredErr{retryable: true}, true},
		{"declared permanent", declaredErr{retryable: false}, false},
		{"wrapped declared", fmt.Errorf("acquire: %w", declaredErr{retryable: true}), true},
		{"wrapped declared permanent wins over message", fmt.Errorf("connection refused: %w", declaredErr{}), false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"too many clients", errors.New("FATAL: sorry, too many clients already"), true},
		{"canceled", fmt.Errorf("acquire: %w", context.Canceled), false},
		{"syntax error", errors.New("syntax error at or near SELECT"), false},
		{"permission denied", errors.New("permission denied for table notes"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDoIfRetryable_StopsOnPermanentError(t *testing.T) {
	callCount := 0
	permanent := declaredErr{retryable: false}
	err := DoIfRetryable(context.Background(), fastConfig(5), func() error {
		callCount++
		return permanent
	})

	if !errors.Is(err, permanent) {
		t.Errorf("expected permanent error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestDoIfRetryable_RetriesTransientError(t *testing.T) {
	callCount := 0
	err := DoIfRetryable(context.Background(), fastConfig(3), func() error {
		callCount++
		if callCount < 2 {
			return declaredErr{retryable: true}
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if callCount != 2 {
		t.Errorf("expected 2 calls, got %d", callCount)
	}
}

func TestDoWithResultIfRetryable(t *testing.T) {
	callCount := 0
	got, err := DoWithResultIfRetryable(context.Background(), fastConfig(2), func() (string, error) {
		callCount++
		if callCount == 1 {
			return "", declaredErr{retryable: true}
		}
		return "lease", nil
	})

	if err != nil || got != "lease" {
		t.Errorf("expected lease, got %q err %v", got, err)
	}

	callCount = 0
	_, err = DoWithResultIfRetryable(context.Background(), fastConfig(2), func() (string, error) {
		callCount++
		return "", declaredErr{retryable: true}
	})
	if err == nil || callCount != 3 {
		t.Errorf("expected exhaustion after 3 calls, got %d calls err %v", callCount, err)
	}
}
