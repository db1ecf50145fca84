package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/graphrelay/relay/internal/client"
	"github.com/graphrelay/relay/internal/compress"
	"github.com/graphrelay/relay/internal/errs"
	"github.com/graphrelay/relay/internal/protocol"
	"github.com/graphrelay/relay/internal/scheduler"
	"github.com/graphrelay/relay/internal/store"
	"go.uber.org/zap"
)

type recordingOutbound struct {
	mu   sync.Mutex
	open bool
	msgs [][]byte
}

func newRecordingOutbound() *recordingOutbound { return &recordingOutbound{open: true} }

func (r *recordingOutbound) IsOpen() bool { r.mu.Lock(); defer r.mu.Unlock(); return r.open }
func (r *recordingOutbound) Send(raw []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, raw)
	return nil
}
func (r *recordingOutbound) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	return nil
}
func (r *recordingOutbound) received() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.msgs...)
}

func newTestRoom(t *testing.T) (*Room, *store.Store) {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	sched := scheduler.New(errs.NewHandler(zap.NewNop()))
	comp := compress.NewManager(compress.GzipProvider{}, 500)
	r := New(ctx, "room1", Config{
		SnapshotIntervalMs:  3600000,
		HeartbeatIntervalMs: 3600000,
		MaxClients:          2,
		BufferTimeMs:        10,
		MaxCommandBatchSize: 100,
	}, comp, db, sched, errs.NewHandler(zap.NewNop()))
	return r, db
}

func newTestClient(r *Room, id protocol.Id) (*client.Client, *recordingOutbound) {
	out := newRecordingOutbound()
	sched := scheduler.New(errs.NewHandler(zap.NewNop()))
	c := client.New(id, 1, out, client.Config{HeartbeatTimeoutMs: 3600000, MaxMissedHeartbeats: 3}, sched, errs.NewHandler(zap.NewNop()), func(protocol.Id) {})
	return c, out
}

func TestDownloadRequiresInitialization(t *testing.T) {
	r, db := newTestRoom(t)
	defer db.Close()

	c, _ := newTestClient(r, "u1")
	_, err := r.AddClient(c, IntentDownload)
	re, ok := err.(*errs.Error)
	if !ok || re.Kind != errs.KindStateNotInitialized {
		t.Fatalf("expected state_not_initialized, got %v", err)
	}
}

func TestUploadThenDownloadRoundTrip(t *testing.T) {
	r, db := newTestRoom(t)
	defer db.Close()

	uploader, _ := newTestClient(r, "u1")
	if _, err := r.AddClient(uploader, IntentUpload); err != nil {
		t.Fatalf("upload join: %v", err)
	}

	doc := &protocol.AppState{IdGen: "100", Pages: []*protocol.Page{{ID: "p1", Nodes: map[protocol.Id]json.RawMessage{}, Edges: map[protocol.Id]json.RawMessage{}, Extra: map[string]json.RawMessage{}}}}
	r.SetRoomState("u1", doc)

	downloader, _ := newTestClient(r, "u2")
	joined, err := r.AddClient(downloader, IntentDownload)
	if err != nil {
		t.Fatalf("download join: %v", err)
	}
	if joined.StateData == nil {
		t.Fatalf("expected stateData on download join")
	}
}

func TestRoomFullRejectsThirdJoiner(t *testing.T) {
	r, db := newTestRoom(t)
	defer db.Close()

	a, _ := newTestClient(r, "u1")
	b, _ := newTestClient(r, "u2")
	if _, err := r.AddClient(a, IntentUpload); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if _, err := r.AddClient(b, IntentUpload); err != nil {
		t.Fatalf("join b: %v", err)
	}

	c, _ := newTestClient(r, "u3")
	_, err := r.AddClient(c, IntentUpload)
	re, ok := err.(*errs.Error)
	if !ok || re.Kind != errs.KindRoomFull {
		t.Fatalf("expected room_full, got %v", err)
	}
	if r.ClientCount() != 2 {
		t.Fatalf("expected client count 2, got %d", r.ClientCount())
	}
}

func TestCommandBatchBroadcastsToAllIncludingOriginator(t *testing.T) {
	r, db := newTestRoom(t)
	defer db.Close()

	a, outA := newTestClient(r, "u1")
	b, outB := newTestClient(r, "u2")
	r.AddClient(a, IntentUpload)
	r.AddClient(b, IntentUpload)
	r.SetRoomState("u1", &protocol.AppState{Pages: []*protocol.Page{{ID: "p1", Nodes: map[protocol.Id]json.RawMessage{}, Edges: map[protocol.Id]json.RawMessage{}, Extra: map[string]json.RawMessage{}}}})

	cmd := protocol.Command{Type: protocol.CmdObjectAdd, PageID: "p1", ObjectType: "node", ObjectID: "n1", Data: json.RawMessage(`{}`), Timestamp: 1}
	r.HandleCommandBatch("u1", []protocol.Command{cmd})

	deadline := time.After(time.Second)
	for len(outA.received()) == 0 || len(outB.received()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("expected broadcast to both clients, got A=%d B=%d", len(outA.received()), len(outB.received()))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCommandBatchFromNonMemberIsDropped(t *testing.T) {
	r, db := newTestRoom(t)
	defer db.Close()

	a, outA := newTestClient(r, "u1")
	r.AddClient(a, IntentUpload)
	r.SetRoomState("u1", &protocol.AppState{Pages: []*protocol.Page{}})

	r.HandleCommandBatch("ghost", []protocol.Command{{Type: protocol.CmdPageDelete, PageID: "p1"}})
	time.Sleep(50 * time.Millisecond)
	if len(outA.received()) != 0 {
		t.Fatalf("expected no broadcast for non-member command batch")
	}
}
