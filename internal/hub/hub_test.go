package hub

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
	"github.com/graphrelay/relay/internal/room"
	"github.com/graphrelay/relay/internal/scheduler"
	"github.com/graphrelay/relay/internal/store"
	"go.uber.org/zap"
)

type fakeSocket struct {
	mu   sync.Mutex
	open bool
	msgs [][]byte
}

func newFakeSocket() *fakeSocket { return &fakeSocket{open: true} }

func (f *fakeSocket) IsOpen() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.open }
func (f *fakeSocket) Send(raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, raw)
	return nil
}
func (f *fakeSocket) Close() error { f.mu.Lock(); defer f.mu.Unlock(); f.open = false; return nil }
func (f *fakeSocket) last() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		return nil
	}
	var m map[string]any
	json.Unmarshal(f.msgs[len(f.msgs)-1], &m)
	return m
}
func (f *fakeSocket) all() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.msgs))
	for _, raw := range f.msgs {
		var m map[string]any
		json.Unmarshal(raw, &m)
		out = append(out, m)
	}
	return out
}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	sched := scheduler.New(errs.NewHandler(zap.NewNop()))
	comp := compress.NewManager(compress.GzipProvider{}, 500)

	cfg := Config{
		ServerProtocolVersion: 1,
		MaxRoomsPerServer:     10,
		RoomConfig: room.Config{
			SnapshotIntervalMs:  3600000,
			HeartbeatIntervalMs: 3600000,
			MaxClients:          2,
			BufferTimeMs:        10,
			MaxCommandBatchSize: 100,
		},
		ClientConfig: client.Config{HeartbeatTimeoutMs: 3600000, MaxMissedHeartbeats: 3},
	}
	return New(cfg, comp, db, sched, errs.NewHandler(zap.NewNop()), zap.NewNop()), db
}

func TestWelcomeOnConnect(t *testing.T) {
	s, db := newTestServer(t)
	defer db.Close()
	ctx := context.Background()

	sock := newFakeSocket()
	s.HandleConnection(ctx, sock)

	msg := sock.last()
	if msg["type"] != "welcome" {
		t.Fatalf("expected welcome, got %v", msg)
	}
}

func TestVersionMismatchOnCreateRoom(t *testing.T) {
	s, db := newTestServer(t)
	defer db.Close()
	ctx := context.Background()

	sock := newFakeSocket()
	clientID := s.HandleConnection(ctx, sock)

	raw, _ := json.Marshal(protocol.CreateRoomMsg{Type: "create_room", ServerProtocolVersion: 99})
	s.HandleMessage(ctx, sock, clientID, raw)

	msg := sock.last()
	if msg["type"] != "error" || msg["code"] != "VERSION_MISMATCH" {
		t.Fatalf("expected VERSION_MISMATCH error, got %v", msg)
	}
}

func TestJoinNonexistentRoom(t *testing.T) {
	s, db := newTestServer(t)
	defer db.Close()
	ctx := context.Background()

	sock := newFakeSocket()
	clientID := s.HandleConnection(ctx, sock)

	raw, _ := json.Marshal(protocol.JoinRoomMsg{Type: "join_room", RoomID: "nonexistent", ServerProtocolVersion: 1, Intent: "download"})
	s.HandleMessage(ctx, sock, clientID, raw)

	msg := sock.last()
	if msg["type"] != "error" || msg["code"] != "ROOM_NOT_FOUND" {
		t.Fatalf("expected ROOM_NOT_FOUND error, got %v", msg)
	}
}

func TestCreateThenJoinDownloadReceivesUploadedDocument(t *testing.T) {
	s, db := newTestServer(t)
	defer db.Close()
	ctx := context.Background()

	sockA := newFakeSocket()
	clientA := s.HandleConnection(ctx, sockA)
	createRaw, _ := json.Marshal(protocol.CreateRoomMsg{Type: "create_room", ServerProtocolVersion: 1})
	s.HandleMessage(ctx, sockA, clientA, createRaw)

	joinedMsg := sockA.last()
	if joinedMsg["type"] != "room_joined" {
		t.Fatalf("expected room_joined, got %v", joinedMsg)
	}
	roomID, _ := joinedMsg["roomId"].(string)

	doc := protocol.AppState{Version: 1, IdGen: "100", Pages: []*protocol.Page{{ID: "p1", Nodes: map[protocol.Id]json.RawMessage{}, Edges: map[protocol.Id]json.RawMessage{}, Extra: map[string]json.RawMessage{}}}}
	docBytes, _ := json.Marshal(&doc)
	uploadRaw, _ := json.Marshal(protocol.UploadStateMsg{Type: "upload_state", StateData: protocol.CompressedPayload{Method: "none", Data: docBytes}})
	s.HandleMessage(ctx, sockA, clientA, uploadRaw)

	sockB := newFakeSocket()
	clientB := s.HandleConnection(ctx, sockB)
	joinRaw, _ := json.Marshal(protocol.JoinRoomMsg{Type: "join_room", RoomID: roomID, ServerProtocolVersion: 1, Intent: "download"})
	s.HandleMessage(ctx, sockB, clientB, joinRaw)

	msgB := sockB.last()
	if msgB["type"] != "room_joined" || msgB["stateData"] == nil {
		t.Fatalf("expected room_joined with stateData, got %v", msgB)
	}
}

func TestRoomFullRejectsThirdJoiner(t *testing.T) {
	s, db := newTestServer(t)
	defer db.Close()
	ctx := context.Background()

	sockA := newFakeSocket()
	clientA := s.HandleConnection(ctx, sockA)
	createRaw, _ := json.Marshal(protocol.CreateRoomMsg{Type: "create_room", ServerProtocolVersion: 1})
	s.HandleMessage(ctx, sockA, clientA, createRaw)
	roomID, _ := sockA.last()["roomId"].(string)

	sockB := newFakeSocket()
	clientB := s.HandleConnection(ctx, sockB)
	joinRaw, _ := json.Marshal(protocol.JoinRoomMsg{Type: "join_room", RoomID: roomID, ServerProtocolVersion: 1, Intent: "upload"})
	s.HandleMessage(ctx, sockB, clientB, joinRaw)

	sockC := newFakeSocket()
	clientC := s.HandleConnection(ctx, sockC)
	s.HandleMessage(ctx, sockC, clientC, joinRaw)

	msgC := sockC.last()
	if msgC["type"] != "error" || msgC["code"] != "ROOM_FULL" {
		t.Fatalf("expected ROOM_FULL, got %v", msgC)
	}
}

func TestDisconnectEmptiesAndDisposesRoom(t *testing.T) {
	s, db := newTestServer(t)
	defer db.Close()
	ctx := context.Background()

	sockA := newFakeSocket()
	clientA := s.HandleConnection(ctx, sockA)
	createRaw, _ := json.Marshal(protocol.CreateRoomMsg{Type: "create_room", ServerProtocolVersion: 1})
	s.HandleMessage(ctx, sockA, clientA, createRaw)

	s.HandleDisconnection(ctx, clientA)

	s.mu.RLock()
	_, exists := s.rooms[sockA.last()["roomId"].(string)]
	s.mu.RUnlock()
	if exists {
		t.Fatalf("expected empty room to be disposed and removed from registry")
	}
}

func TestHeartbeatBroadcastsHighestIdCounter(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()
	sched := scheduler.New(errs.NewHandler(zap.NewNop()))
	comp := compress.NewManager(compress.GzipProvider{}, 500)

	cfg := Config{
		ServerProtocolVersion: 1,
		MaxRoomsPerServer:     10,
		RoomConfig: room.Config{
			SnapshotIntervalMs:  3600000,
			HeartbeatIntervalMs: 20,
			MaxClients:          2,
			BufferTimeMs:        10,
			MaxCommandBatchSize: 100,
		},
		ClientConfig: client.Config{HeartbeatTimeoutMs: 3600000, MaxMissedHeartbeats: 3},
	}
	s := New(cfg, comp, db, sched, errs.NewHandler(zap.NewNop()), zap.NewNop())

	sockA := newFakeSocket()
	clientA := s.HandleConnection(ctx, sockA)
	createRaw, _ := json.Marshal(protocol.CreateRoomMsg{Type: "create_room", ServerProtocolVersion: 1})
	s.HandleMessage(ctx, sockA, clientA, createRaw)

	doc := protocol.AppState{IdGen: "5", Pages: []*protocol.Page{}}
	docBytes, _ := json.Marshal(&doc)
	uploadRaw, _ := json.Marshal(protocol.UploadStateMsg{Type: "upload_state", StateData: protocol.CompressedPayload{Method: "none", Data: docBytes}})
	s.HandleMessage(ctx, sockA, clientA, uploadRaw)

	hbRaw, _ := json.Marshal(protocol.HeartbeatMsg{Type: "heartbeat", Cursor: protocol.Cursor{X: 1, Y: 2}, LocalIdCounter: "50"})
	s.HandleMessage(ctx, sockA, clientA, hbRaw)

	r := s.roomOf(clientA)
	r.HandleHeartbeat(s.clients[clientA])

	deadline := time.After(time.Second)
	for {
		found := false
		for _, m := range sockA.all() {
			if m["type"] == "heartbeat_response" && m["highestIdCounter"] == "50" {
				found = true
			}
		}
		if found {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected heartbeat_response broadcast with highestIdCounter 50")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
