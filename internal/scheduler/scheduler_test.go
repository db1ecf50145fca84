package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/graphrelay/relay/internal/errs"
	"go.uber.org/zap"
)

func TestSafeIntervalSurvivesPanic(t *testing.T) {
	s := New(errs.NewHandler(zap.NewNop()))
	var calls int32

	h := s.SafeInterval("flaky", func() {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			panic("boom")
		}
	}, 5*time.Millisecond)
	defer h.Stop()

	deadline := time.After(500 * time.Millisecond)
	for atomic.LoadInt32(&calls) < 2 {
		select {
		case <-deadline:
			t.Fatalf("ticker stopped firing after panic, calls=%d", atomic.LoadInt32(&calls))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSafeTimeoutRunsOnce(t *testing.T) {
	s := New(errs.NewHandler(zap.NewNop()))
	var calls int32

	s.SafeTimeout("once", func() {
		atomic.AddInt32(&calls, 1)
	}, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 call, got %d", got)
	}
}

func TestHandleStopIsIdempotent(t *testing.T) {
	s := New(errs.NewHandler(zap.NewNop()))
	h := s.SafeInterval("noop", func() {}, time.Hour)
	h.Stop()
	h.Stop()
}
