package client

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/graphrelay/relay/internal/errs"
	"github.com/graphrelay/relay/internal/protocol"
	"github.com/graphrelay/relay/internal/scheduler"
	"go.uber.org/zap"
)

type fakeOutbound struct {
	open   int32
	closed int32
	sent   [][]byte
}

func newFakeOutbound() *fakeOutbound {
	return &fakeOutbound{open: 1}
}

func (f *fakeOutbound) IsOpen() bool { return atomic.LoadInt32(&f.open) == 1 }
func (f *fakeOutbound) Send(raw []byte) error {
	f.sent = append(f.sent, raw)
	return nil
}
func (f *fakeOutbound) Close() error {
	atomic.StoreInt32(&f.open, 0)
	atomic.AddInt32(&f.closed, 1)
	return nil
}

func TestHeartbeatTimeoutDisconnectsAfterMaxMissed(t *testing.T) {
	out := newFakeOutbound()
	var disconnected int32
	sched := scheduler.New(errs.NewHandler(zap.NewNop()))

	New("u1", 1, out, Config{HeartbeatTimeoutMs: 10, MaxMissedHeartbeats: 3}, sched, errs.NewHandler(zap.NewNop()), func(id protocol.Id) {
		atomic.StoreInt32(&disconnected, 1)
	})

	deadline := time.After(time.Second)
	for atomic.LoadInt32(&disconnected) == 0 {
		select {
		case <-deadline:
			t.Fatalf("expected disconnect after max missed heartbeats")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if out.IsOpen() {
		t.Fatalf("expected outbound closed on disconnect")
	}
}

func TestHeartbeatResetsMissedCount(t *testing.T) {
	out := newFakeOutbound()
	var disconnected int32
	sched := scheduler.New(errs.NewHandler(zap.NewNop()))

	c := New("u1", 1, out, Config{HeartbeatTimeoutMs: 20, MaxMissedHeartbeats: 2}, sched, errs.NewHandler(zap.NewNop()), func(id protocol.Id) {
		atomic.StoreInt32(&disconnected, 1)
	})

	// Keep sending heartbeats faster than the timeout for longer than the
	// timeout*maxMissed window would otherwise allow.
	for i := 0; i < 5; i++ {
		time.Sleep(10 * time.Millisecond)
		c.UpdateFromHeartbeat(protocol.Cursor{X: 1, Y: 2}, "5")
	}
	if atomic.LoadInt32(&disconnected) == 1 {
		t.Fatalf("client should not disconnect while heartbeats keep arriving")
	}
	if c.Cursor().X != 1 {
		t.Fatalf("expected cursor recorded")
	}
}

func TestSendMessageSwallowsErrorsWhenClosed(t *testing.T) {
	out := newFakeOutbound()
	out.Close()
	sched := scheduler.New(errs.NewHandler(zap.NewNop()))
	c := New("u1", 1, out, Config{HeartbeatTimeoutMs: hourMs(), MaxMissedHeartbeats: 3}, sched, errs.NewHandler(zap.NewNop()), nil)

	c.SendMessage([]byte("hello"))
	if len(out.sent) != 0 {
		t.Fatalf("expected no send while outbound closed")
	}
}

func hourMs() int { return 60 * 60 * 1000 }
