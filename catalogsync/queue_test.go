package catalogsync

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTaskBackoff_DoublesAndCaps(t *testing.T) {
	cfg := taskRetryConfig{
		maxAttempts: 8,
		baseBackoff: 2 * time.Second,
		maxBackoff:  20 * time.Second,
	}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 20 * time.Second}, // capped
		{9, 20 * time.Second},
	}
	for _, tc := range cases {
		if got := taskBackoff(tc.attempt, cfg); got != tc.want {
			t.Fatalf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}

func TestDispatcher_RetriesUntilSuccess(t *testing.T) {
	d := NewDispatcher(nil)
	d.cfg = taskRetryConfig{maxAttempts: 5, baseBackoff: time.Millisecond, maxBackoff: time.Millisecond}

	var slept []time.Duration
	d.sleep = func(dur time.Duration) { slept = append(slept, dur) }

	calls := 0
	d.Register("work", func(ctx context.Context, msg TaskMessage) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	err := d.Dispatch(context.Background(), TaskMessage{TaskId: "t1", Kind: "work"})
	if err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if len(slept) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %d", len(slept))
	}
}

func TestDispatcher_ExhaustionInvokesHook(t *testing.T) {
	d := NewDispatcher(nil)
	d.cfg = taskRetryConfig{maxAttempts: 3, baseBackoff: time.Millisecond, maxBackoff: time.Millisecond}
	d.sleep = func(time.Duration) {}

	calls := 0
	permanent := errors.New("permanent")
	d.Register("work", func(ctx context.Context, msg TaskMessage) error {
		calls++
		return permanent
	})

	var hookMsg TaskMessage
	var hookErr error
	d.SetExhaustedHook(func(msg TaskMessage, err error) {
		hookMsg = msg
		hookErr = err
	})

	err := d.Dispatch(context.Background(), TaskMessage{TaskId: "t2", Kind: "work", SupplierId: 4})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected the handler error back, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if hookMsg.TaskId != "t2" || hookMsg.SupplierId != 4 {
		t.Fatalf("hook got wrong message: %+v", hookMsg)
	}
	if !errors.Is(hookErr, permanent) {
		t.Fatalf("hook got wrong error: %v", hookErr)
	}
}

func TestDispatcher_UnknownKind(t *testing.T) {
	d := NewDispatcher(nil)
	if err := d.Dispatch(context.Background(), TaskMessage{TaskId: "t3", Kind: "nope"}); err == nil {
		t.Fatal("expected error for unknown task kind")
	}
}

func TestDispatcher_NoRetryAfterFirstSuccess(t *testing.T) {
	d := NewDispatcher(nil)
	d.cfg = taskRetryConfig{maxAttempts: 5, baseBackoff: time.Millisecond, maxBackoff: time.Millisecond}
	slept := 0
	d.sleep = func(time.Duration) { slept++ }

	calls := 0
	d.Register("work", func(ctx context.Context, msg TaskMessage) error {
		calls++
		return nil
	})

	if err := d.Dispatch(context.Background(), TaskMessage{TaskId: "t4", Kind: "work"}); err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	if calls != 1 || slept != 0 {
		t.Fatalf("expected single attempt without sleeps, got calls=%d slept=%d", calls, slept)
	}
}
