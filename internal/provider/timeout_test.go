package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunWithTimeout_Expires(t *testing.T) {
	timeouts := []time.Duration{20 * time.Millisecond, 50 * time.Millisecond}

	for _, timeout := range timeouts {
		t.Run(timeout.String(), func(t *testing.T) {
			release := make(chan struct{})
			defer close(release)

			_, err := RunWithTimeout(context.Background(), timeout, func(ctx context.Context) (string, error) {
				// ignores cancellation on purpose
				<-release
				return "late", nil
			})

			var te *TimeoutError
			if !errors.As(err, &te) {
				t.Fatalf("expected *TimeoutError, got %v", err)
			}
			if te.Seconds != timeout.Seconds() {
				t.Errorf("expected %v seconds, got %v", timeout.Seconds(), te.Seconds)
			}
		})
	}
}

func TestRunWithTimeout_ReturnsResult(t *testing.T) {
	got, err := RunWithTimeout(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}

func TestRunWithTimeout_PropagatesError(t *testing.T) {
	boom := errors.New("boom")

	_, err := RunWithTimeout(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	if err != boom {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestRunWithTimeout_CancelsCallContext(t *testing.T) {
	observed := make(chan struct{})

	_, _ = RunWithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		close(observed)
		return 0, ctx.Err()
	})

	select {
	case <-observed:
	case <-time.After(time.Second):
		t.Fatal("call context was not cancelled after timeout")
	}
}

func TestTimeoutError_Message(t *testing.T) {
	err := &TimeoutError{Seconds: 30}
	if err.Error() != "generation timed out after 30s" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestWrapError(t *testing.T) {
	cause := errors.New("connection refused")

	err := WrapError("My OpenAI", cause)

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProviderError, got %T", err)
	}
	if pe.Provider != "My OpenAI" || pe.Message != "connection refused" {
		t.Errorf("unexpected provider error %+v", pe)
	}
	if !errors.Is(err, cause) {
		t.Error("provider error should unwrap to its cause")
	}

	timeout := WrapError("My OpenAI", &TimeoutError{Seconds: 1})
	if !IsTimeout(timeout) {
		t.Errorf("timeouts must not be rewrapped, got %T", timeout)
	}
}
