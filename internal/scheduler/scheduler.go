// Package scheduler provides safe periodic/one-shot timers (Scheduler)
// and the cron-driven database maintenance job (Maintenance, on gocron).
// Every room, client and command-buffer timer goes through Scheduler so a
// panic in a callback is logged and never tears down the process.
package scheduler

import (
	"time"

	"github.com/graphrelay/relay/internal/errs"
)

// Scheduler wraps time.Ticker/time.AfterFunc with panic recovery, in the
// same shape the rest of this codebase already used ad hoc for its
// compression batch flusher and auto-save loops, generalized into one
// reusable helper.
type Scheduler struct {
	handler *errs.Handler
}

func New(handler *errs.Handler) *Scheduler {
	return &Scheduler{handler: handler}
}

// Handle is the type returned by SafeInterval/SafeTimeout; Stop cancels
// the timer, idempotently.
type Handle struct {
	stop func()
}

func (h *Handle) Stop() {
	if h == nil || h.stop == nil {
		return
	}
	h.stop()
}

// SafeInterval runs fn every d until Stop is called. A panic inside fn is
// recovered, routed to the error handler tagged with the task name, and
// the ticker keeps running.
func (s *Scheduler) SafeInterval(name string, fn func(), d time.Duration) *Handle {
	ticker := time.NewTicker(d)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				ticker.Stop()
				return
			case <-ticker.C:
				s.runSafely(name, fn)
			}
		}
	}()

	return &Handle{stop: func() {
		select {
		case <-done:
		default:
			close(done)
		}
	}}
}

// SafeTimeout runs fn once after d, unless Stop is called first.
func (s *Scheduler) SafeTimeout(name string, fn func(), d time.Duration) *Handle {
	timer := time.AfterFunc(d, func() {
		s.runSafely(name, fn)
	})
	return &Handle{stop: func() { timer.Stop() }}
}

func (s *Scheduler) runSafely(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := &errs.Error{
				Kind:    errs.KindInternal,
				Message: "scheduled task panicked",
				Context: map[string]any{"source": "Scheduler", "taskName": name, "panic": r},
			}
			s.handler.Handle(err, nil)
		}
	}()
	fn()
}
