// Package room composes RoomState, CommandBuffer, and the connected
// Clients for one collaboration session, owning the snapshot and
// heartbeat timers.
package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/graphrelay/relay/internal/buffer"
	"github.com/graphrelay/relay/internal/client"
	"github.com/graphrelay/relay/internal/compress"
	"github.com/graphrelay/relay/internal/errs"
	"github.com/graphrelay/relay/internal/metrics"
	"github.com/graphrelay/relay/internal/protocol"
	"github.com/graphrelay/relay/internal/roomstate"
	"github.com/graphrelay/relay/internal/scheduler"
	"github.com/graphrelay/relay/internal/store"
)

type Config struct {
	SnapshotIntervalMs  int
	HeartbeatIntervalMs int
	MaxClients          int
	BufferTimeMs        int
	MaxCommandBatchSize int
}

// Intent is the purpose a client joins a room with.
type Intent string

const (
	IntentDownload Intent = "download"
	IntentUpload   Intent = "upload"
)

// Room is one collaboration session.
type Room struct {
	RoomID protocol.Id

	mu      sync.Mutex
	clients map[protocol.Id]*client.Client
	state   *roomstate.RoomState
	cmdBuf  *buffer.CommandBuffer

	cfg         Config
	compression *compress.Manager
	db          *store.Store
	scheduler   *scheduler.Scheduler
	errHandler  *errs.Handler

	snapshotTimer  *scheduler.Handle
	heartbeatTimer *scheduler.Handle
}

// New constructs a Room, wires its CommandBuffer, starts its timers, and
// eagerly attempts to rehydrate from the newest snapshot.
func New(ctx context.Context, roomID protocol.Id, cfg Config, compression *compress.Manager, db *store.Store, sched *scheduler.Scheduler, errHandler *errs.Handler) *Room {
	r := &Room{
		RoomID:      roomID,
		clients:     make(map[protocol.Id]*client.Client),
		state:       roomstate.New(),
		cfg:         cfg,
		compression: compression,
		db:          db,
		scheduler:   sched,
		errHandler:  errHandler,
	}
	r.cmdBuf = buffer.New(buffer.Config{BufferTimeMs: cfg.BufferTimeMs, MaxBatchSize: cfg.MaxCommandBatchSize}, sched, r.handleCommandFlush)

	r.snapshotTimer = sched.SafeInterval("Room.snapshot", r.snapshotPump, time.Duration(cfg.SnapshotIntervalMs)*time.Millisecond)
	r.heartbeatTimer = sched.SafeInterval("Room.heartbeat", r.heartbeatPump, time.Duration(cfg.HeartbeatIntervalMs)*time.Millisecond)

	r.rehydrate(ctx)
	return r
}

func (r *Room) rehydrate(ctx context.Context) {
	snap, err := r.db.LoadSnapshot(ctx, r.RoomID)
	if err != nil {
		r.errHandler.Handle(err, map[string]any{"roomId": r.RoomID, "operation": "rehydrate"})
		return
	}
	if snap == nil {
		return
	}
	var doc protocol.AppState
	payload := protocol.CompressedPayload{Method: snap.CompressionMethod, Data: snap.StateData}
	if err := r.compression.Decompress(payload, &doc); err != nil {
		r.errHandler.Handle(err, map[string]any{"roomId": r.RoomID, "operation": "rehydrate"})
		return
	}
	r.state.SetState(&doc)
}

// AddClient admits c with the given intent, failing if the room is at
// capacity, if a download is requested before any state exists, or if
// uploads are not currently permitted.
func (r *Room) AddClient(c *client.Client, intent Intent) (*protocol.RoomJoinedMsg, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.clients) >= r.cfg.MaxClients {
		return nil, &errs.Error{Kind: errs.KindRoomFull, Message: "room is full", ClientVisible: true, Context: map[string]any{"roomId": r.RoomID}}
	}
	if intent == IntentDownload && !r.state.CanGetState() {
		return nil, &errs.Error{Kind: errs.KindStateNotInitialized, Message: "room state not initialized", ClientVisible: true, Context: map[string]any{"roomId": r.RoomID}}
	}
	if !r.state.CanSetState() {
		return nil, &errs.Error{Kind: errs.KindUploadNotAuthorized, Message: "upload not authorized", ClientVisible: true, Context: map[string]any{"roomId": r.RoomID}}
	}

	r.clients[c.ID] = c

	msg := &protocol.RoomJoinedMsg{Type: "room_joined", RoomID: r.RoomID, ClientID: c.ID}
	if intent == IntentDownload {
		doc, err := r.state.GetState()
		if err != nil {
			return nil, err
		}
		payload, err := r.compression.Compress(doc)
		if err != nil {
			return nil, err
		}
		msg.StateData = &payload
	}
	return msg, nil
}

func (r *Room) RemoveClient(id protocol.Id) {
	r.mu.Lock()
	delete(r.clients, id)
	r.mu.Unlock()
}

func (r *Room) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// HandleCommandBatch drops silently if the client is not a member;
// otherwise applies the commands (failures are reported, nothing
// enqueued) and hands the batch to the CommandBuffer for coalescing.
func (r *Room) HandleCommandBatch(clientID protocol.Id, cmds []protocol.Command) {
	r.mu.Lock()
	_, ok := r.clients[clientID]
	r.mu.Unlock()
	if !ok {
		return
	}

	if err := r.state.ApplyCommands(cmds); err != nil {
		r.errHandler.Handle(err, map[string]any{"roomId": r.RoomID, "clientId": clientID})
		return
	}
	metrics.CommandsApplied.Add(float64(len(cmds)))
	r.cmdBuf.AddCommands(cmds)
}

// HandleHeartbeat forwards the client's localIdCounter into RoomState.
func (r *Room) HandleHeartbeat(c *client.Client) {
	r.state.UpdateIdCounter(c.LocalIdCounter())
}

// SetRoomState replaces the document via an upload and triggers an
// immediate snapshot write.
func (r *Room) SetRoomState(clientID protocol.Id, doc *protocol.AppState) {
	r.state.SetState(doc)
	r.snapshotPump()
}

// Broadcast writes raw to every client's outbound except exclude (if set).
func (r *Room) Broadcast(raw []byte, exclude protocol.Id) {
	r.mu.Lock()
	targets := make([]*client.Client, 0, len(r.clients))
	for id, c := range r.clients {
		if id == exclude {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.Unlock()

	for _, c := range targets {
		c.SendMessage(raw)
	}
}

// Dispose clears both timers, disposes the buffer, disconnects any
// remaining clients, and persists a final snapshot if dirty.
func (r *Room) Dispose(ctx context.Context) {
	r.snapshotTimer.Stop()
	r.heartbeatTimer.Stop()
	r.cmdBuf.Dispose()

	r.snapshotPumpCtx(ctx)

	r.mu.Lock()
	remaining := make([]*client.Client, 0, len(r.clients))
	for _, c := range r.clients {
		remaining = append(remaining, c)
	}
	r.clients = make(map[protocol.Id]*client.Client)
	r.mu.Unlock()

	for _, c := range remaining {
		c.Disconnect()
	}
}

func (r *Room) handleCommandFlush(cmds []protocol.Command) {
	msg := protocol.CommandBatchOutMsg{Type: "command_batch", Commands: cmds}
	raw, err := json.Marshal(msg)
	if err != nil {
		r.errHandler.Handle(errs.Wrap("room.flush.marshal", err, map[string]any{"roomId": r.RoomID}), nil)
		return
	}
	// Broadcast to everyone, including originators: they use the
	// broadcast itself as acknowledgment and as the authoritative global
	// ordering of their own commands.
	r.Broadcast(raw, "")
}

func (r *Room) snapshotPump() {
	r.snapshotPumpCtx(context.Background())
}

func (r *Room) snapshotPumpCtx(ctx context.Context) {
	doc, hasChanged := r.state.ConsumeStateChanges()
	if !hasChanged || doc == nil {
		return
	}
	payload, err := r.compression.Compress(doc)
	if err != nil {
		r.errHandler.Handle(err, map[string]any{"roomId": r.RoomID, "operation": "snapshot"})
		return
	}
	err = r.db.SaveSnapshot(ctx, store.Snapshot{
		RoomID:            r.RoomID,
		StateData:         payload.Data,
		CompressionMethod: payload.Method,
		Timestamp:         time.Now().UnixMilli(),
	})
	if err != nil {
		metrics.SnapshotFailures.Inc()
		r.errHandler.Handle(err, map[string]any{"roomId": r.RoomID, "operation": "snapshot"})
	}
}

func (r *Room) heartbeatPump() {
	r.mu.Lock()
	clients := make([]*client.Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	presence := make([]protocol.ClientPresence, 0, len(clients))
	for _, c := range clients {
		presence = append(presence, protocol.ClientPresence{ClientID: c.ID, Cursor: c.Cursor()})
	}

	msg := protocol.HeartbeatResponseMsg{
		Type:             "heartbeat_response",
		Clients:          presence,
		HighestIdCounter: r.state.GetIdCounter(),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		r.errHandler.Handle(errs.Wrap("room.heartbeat.marshal", err, map[string]any{"roomId": r.RoomID}), nil)
		return
	}
	r.Broadcast(raw, "")
}
