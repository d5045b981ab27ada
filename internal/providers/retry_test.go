package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetryDoSucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	got, err := RetryDo(context.Background(), fastRetry(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", &HTTPError{Status: 503, Body: "overloaded"}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls", got, calls)
	}
}

func TestRetryDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := RetryDo(context.Background(), fastRetry(), func() (string, error) {
		calls++
		return "", &HTTPError{Status: 400, Body: "bad request"}
	})

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != 400 {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("4xx was retried: %d calls", calls)
	}
}

func TestRetryDoRetries429(t *testing.T) {
	calls := 0
	_, err := RetryDo(context.Background(), fastRetry(), func() (int, error) {
		calls++
		return 0, &HTTPError{Status: 429, Body: "rate limited"}
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("429 retried %d times, want 3", calls)
	}
}

func TestRetryDoRetriesNetworkErrors(t *testing.T) {
	calls := 0
	_, err := RetryDo(context.Background(), fastRetry(), func() (int, error) {
		calls++
		return 0, fmt.Errorf("dial tcp: connection refused")
	})
	if err == nil || calls != 3 {
		t.Errorf("network error retried %d times, err = %v", calls, err)
	}
}

func TestRetryDoHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}

	done := make(chan error, 1)
	go func() {
		_, err := RetryDo(ctx, cfg, func() (int, error) {
			calls++
			return 0, &HTTPError{Status: 500, Body: "boom"}
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RetryDo did not return after cancel")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestHTTPErrorRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{400, false}, {401, false}, {404, false}, {422, false},
		{429, true}, {500, true}, {502, true}, {529, true},
	}
	for _, tt := range tests {
		e := &HTTPError{Status: tt.status}
		if got := e.Retryable(); got != tt.want {
			t.Errorf("Retryable(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := ParseRetryAfter("7"); got != 7*time.Second {
		t.Errorf("seconds form = %v", got)
	}
	if got := ParseRetryAfter(""); got != 0 {
		t.Errorf("empty = %v", got)
	}
	if got := ParseRetryAfter("garbage"); got != 0 {
		t.Errorf("garbage = %v", got)
	}

	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	got := ParseRetryAfter(future)
	if got < 20*time.Second || got > 31*time.Second {
		t.Errorf("http-date form = %v", got)
	}

	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	if got := ParseRetryAfter(past); got != 0 {
		t.Errorf("past date = %v", got)
	}
}

func TestRetryAfterHintExtendsWait(t *testing.T) {
	start := time.Now()
	calls := 0
	cfg := RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Second}
	RetryDo(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, &HTTPError{Status: 429, RetryAfter: 50 * time.Millisecond}
	})
	if calls != 2 {
		t.Fatalf("calls = %d", calls)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Retry-After hint ignored, waited only %v", elapsed)
	}
}
