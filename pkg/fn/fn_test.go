package fn

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestFromPair(t *testing.T) {
	if v, err := FromPair(7, nil).Unwrap(); v != 7 || err != nil {
		t.Fatalf("FromPair ok = %v, %v", v, err)
	}
	boom := errors.New("boom")
	r := FromPair(7, boom)
	if !r.IsErr() || r.IsOk() {
		t.Fatal("FromPair with an error must fail")
	}
	if _, err := r.Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestChunk(t *testing.T) {
	cases := []struct {
		n    int
		in   []int
		want [][]int
	}{
		{2, []int{1, 2, 3, 4, 5}, [][]int{{1, 2}, {3, 4}, {5}}},
		{3, []int{1, 2, 3}, [][]int{{1, 2, 3}}},
		{10, []int{1}, [][]int{{1}}},
		{0, []int{1}, nil},
		{2, nil, nil},
	}
	for _, tc := range cases {
		got := Chunk(tc.in, tc.n)
		if len(got) != len(tc.want) {
			t.Errorf("Chunk(%v, %d) = %v", tc.in, tc.n, got)
			continue
		}
		for i := range got {
			if len(got[i]) != len(tc.want[i]) || got[i][0] != tc.want[i][0] {
				t.Errorf("Chunk(%v, %d)[%d] = %v, want %v", tc.in, tc.n, i, got[i], tc.want[i])
			}
		}
	}

	// appending to one chunk must not clobber the next
	parts := Chunk([]int{1, 2, 3, 4}, 2)
	_ = append(parts[0], 99)
	if parts[1][0] != 3 {
		t.Errorf("chunk capacity leaks into neighbour: %v", parts)
	}
}

func TestParMapResultKeepsOrderAndBoundsWorkers(t *testing.T) {
	items := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff"}
	var running, peak atomic.Int32
	out := ParMapResult(context.Background(), items, 2, func(_ context.Context, s string) Result[int] {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
		return Ok(len(s))
	})
	for i, r := range out {
		if v, err := r.Unwrap(); err != nil || v != i+1 {
			t.Errorf("out[%d] = %v, %v", i, v, err)
		}
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency %d exceeds 2 workers", peak.Load())
	}
}

func TestParMapResultCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int32
	out := ParMapResult(ctx, []int{1, 2, 3}, 1, func(context.Context, int) Result[int] {
		calls.Add(1)
		return Ok(0)
	})
	if calls.Load() != 0 {
		t.Errorf("f called %d times after cancel", calls.Load())
	}
	for i, r := range out {
		if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
			t.Errorf("out[%d] err = %v", i, err)
		}
	}
}

func TestThenShortCircuits(t *testing.T) {
	var secondRan bool
	parse := Stage[string, string](func(_ context.Context, s string) Result[string] {
		if s == "" {
			return Err[string](errors.New("empty"))
		}
		return Ok(strings.ToUpper(s))
	})
	length := Stage[string, int](func(_ context.Context, s string) Result[int] {
		secondRan = true
		return Ok(len(s))
	})
	both := TracedStage("test.both", Then(parse, length))

	if v, err := both(context.Background(), "abc").Unwrap(); err != nil || v != 3 {
		t.Fatalf("got %v, %v", v, err)
	}
	secondRan = false
	if _, err := both(context.Background(), "").Unwrap(); err == nil || err.Error() != "empty" {
		t.Fatalf("expected first stage error, got %v", err)
	}
	if secondRan {
		t.Error("second stage ran after failure")
	}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	var calls int
	var retried []int
	opts := RetryOpts{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		OnRetry:     func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) },
	}
	r := Retry(context.Background(), opts, func(context.Context) Result[string] {
		calls++
		if calls < 3 {
			return Err[string](errors.New("transient"))
		}
		return Ok("done")
	})
	if v, err := r.Unwrap(); err != nil || v != "done" {
		t.Fatalf("got %v, %v", v, err)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("OnRetry attempts = %v", retried)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	var calls int
	opts := RetryOpts{
		MaxAttempts: 5,
		InitialWait: time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}
	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		calls++
		return Err[int](permanent)
	})
	if _, err := r.Unwrap(); !errors.Is(err, permanent) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	var calls int
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond}, func(context.Context) Result[int] {
		calls++
		return Err[int](errors.New("down"))
	})
	if r.IsOk() || calls != 2 {
		t.Errorf("ok=%v calls=%d", r.IsOk(), calls)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	r := Retry(ctx, RetryOpts{MaxAttempts: 5, InitialWait: time.Hour}, func(context.Context) Result[int] {
		calls++
		cancel()
		return Err[int](errors.New("fail"))
	})
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
}

func TestBackoffCapped(t *testing.T) {
	o := RetryOpts{InitialWait: time.Second, MaxWait: 3 * time.Second}
	for attempt, want := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 3 * time.Second, 40: 3 * time.Second} {
		if got := o.backoff(attempt); got != want {
			t.Errorf("backoff(%d) = %v, want %v", attempt, got, want)
		}
	}
}
