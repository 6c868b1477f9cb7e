package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	res := Do(context.Background(), Linear(3, time.Millisecond), func() error {
		calls++
		return nil
	})
	if res.Err != nil || res.Attempts != 1 || calls != 1 {
		t.Fatalf("result = %+v, calls = %d", res, calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	res := Do(context.Background(), Linear(5, time.Millisecond), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if res.Err != nil || res.Attempts != 3 {
		t.Fatalf("result = %+v", res)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	res := Do(context.Background(), Linear(3, time.Millisecond), func() error {
		calls++
		return boom
	})
	if !errors.Is(res.Err, boom) || res.Attempts != 3 || calls != 3 {
		t.Fatalf("result = %+v, calls = %d", res, calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	res := Do(context.Background(), Linear(5, time.Millisecond), func() error {
		calls++
		return Permanent(errors.New("bad request"))
	})
	if calls != 1 || res.Attempts != 1 {
		t.Fatalf("permanent error was retried: calls = %d", calls)
	}
	if !IsPermanent(res.Err) {
		t.Fatal("permanent marker lost")
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	res := Do(ctx, Linear(100, time.Hour), func() error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("err = %v", res.Err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoWithValue(t *testing.T) {
	calls := 0
	v, res := DoWithValue(context.Background(), Linear(3, time.Millisecond), func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if v != "ok" || res.Err != nil || res.Attempts != 2 {
		t.Fatalf("v = %q, result = %+v", v, res)
	}
}

func TestLinearConfigFixedDelay(t *testing.T) {
	cfg := Linear(3, time.Second)
	if cfg.InitialDelay != time.Second || cfg.MaxDelay != time.Second || cfg.Factor != 1.0 || cfg.Jitter {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestPermanentNil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) must be nil")
	}
	if IsPermanent(errors.New("plain")) {
		t.Fatal("plain error is not permanent")
	}
}
