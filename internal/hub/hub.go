// Package hub is the CollaborationServer: it demultiplexes inbound
// messages, routes clients to rooms, and enforces protocol version and
// capacity.
package hub

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/graphrelay/relay/internal/client"
	"github.com/graphrelay/relay/internal/compress"
	"github.com/graphrelay/relay/internal/errs"
	"github.com/graphrelay/relay/internal/metrics"
	"github.com/graphrelay/relay/internal/protocol"
	"github.com/graphrelay/relay/internal/room"
	"github.com/graphrelay/relay/internal/scheduler"
	"github.com/graphrelay/relay/internal/store"

	"go.uber.org/zap"
)

type Config struct {
	ServerProtocolVersion int
	MaxRoomsPerServer     int
	RoomConfig            room.Config
	ClientConfig          client.Config
}

// Socket is the abstract duplex message channel a connection is
// represented by before it has joined a room; it satisfies
// client.Outbound as well.
type Socket interface {
	client.Outbound
}

// Server is the CollaborationServer.
type Server struct {
	cfg         Config
	compression *compress.Manager
	db          *store.Store
	scheduler   *scheduler.Scheduler
	errHandler  *errs.Handler
	log         *zap.Logger

	mu               sync.RWMutex
	rooms            map[protocol.Id]*room.Room
	clients          map[protocol.Id]*client.Client
	clientIDToRoomID map[protocol.Id]protocol.Id
	clientIDToSocket map[protocol.Id]Socket

	nextClientNumber int64
}

func New(cfg Config, compression *compress.Manager, db *store.Store, sched *scheduler.Scheduler, errHandler *errs.Handler, log *zap.Logger) *Server {
	return &Server{
		cfg:              cfg,
		compression:      compression,
		db:               db,
		scheduler:        sched,
		errHandler:       errHandler,
		log:              log,
		rooms:            make(map[protocol.Id]*room.Room),
		clients:          make(map[protocol.Id]*client.Client),
		clientIDToRoomID: make(map[protocol.Id]protocol.Id),
		clientIDToSocket: make(map[protocol.Id]Socket),
	}
}

func (s *Server) mintClientID() protocol.Id {
	n := atomic.AddInt64(&s.nextClientNumber, 1)
	return fmt.Sprintf("u%d", n)
}

func generateRoomID() (protocol.Id, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate room id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HandleConnection records the socket, mints a client id, and sends a
// welcome frame advertising the server's protocol version and the
// currently known rooms.
func (s *Server) HandleConnection(ctx context.Context, socket Socket) protocol.Id {
	id := s.mintClientID()

	s.mu.Lock()
	s.clientIDToSocket[id] = socket
	s.mu.Unlock()

	rooms, err := s.db.ListRooms(ctx)
	if err != nil {
		s.errHandler.Handle(err, map[string]any{"operation": "handleConnection"})
	}
	available := make([]protocol.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		available = append(available, protocol.RoomSummary{RoomID: r.RoomID})
	}

	welcome := protocol.WelcomeMsg{Type: "welcome", ServerProtocolVersion: s.cfg.ServerProtocolVersion, AvailableRooms: available}
	s.send(socket, welcome)
	return id
}

// HandleMessage parses raw as JSON, dispatches on its type discriminator,
// and sends an error frame back on socket if the resulting error is
// client-visible.
func (s *Server) HandleMessage(ctx context.Context, socket Socket, clientID protocol.Id, raw []byte) {
	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		s.reportError(socket, errs.New(errs.KindInvalidMessage, "malformed frame").Visible(), map[string]any{"clientId": clientID})
		return
	}

	var handleErr error
	switch env.Type {
	case "create_room":
		handleErr = s.handleCreateRoom(ctx, socket, clientID, raw)
	case "join_room":
		handleErr = s.handleJoinRoom(ctx, socket, clientID, raw)
	case "command_batch":
		handleErr = s.handleCommandBatch(clientID, raw)
	case "heartbeat":
		handleErr = s.handleHeartbeat(clientID, raw)
	case "upload_state":
		handleErr = s.handleUploadState(clientID, raw)
	default:
		handleErr = errs.New(errs.KindInvalidMessage, "unknown message type").Visible()
	}

	if handleErr != nil {
		s.reportError(socket, handleErr, map[string]any{"clientId": clientID, "type": env.Type})
	}
}

func (s *Server) reportError(socket Socket, err error, ctx map[string]any) {
	frame := s.errHandler.Handle(err, ctx)
	if frame != nil {
		s.send(socket, frame)
	}
}

func (s *Server) isVersionCompatible(v int) bool {
	return v == s.cfg.ServerProtocolVersion
}

func (s *Server) versionMismatchErr(got int) *errs.Error {
	return &errs.Error{
		Kind:          errs.KindVersionMismatch,
		Message:       fmt.Sprintf("client protocol version %d does not match server version %d", got, s.cfg.ServerProtocolVersion),
		ClientVisible: true,
		Context:       map[string]any{"clientVersion": got, "serverVersion": s.cfg.ServerProtocolVersion},
	}
}

func (s *Server) handleCreateRoom(ctx context.Context, socket Socket, clientID protocol.Id, raw []byte) error {
	var msg protocol.CreateRoomMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return errs.New(errs.KindInvalidMessage, "bad create_room frame").Visible()
	}
	if !s.isVersionCompatible(msg.ServerProtocolVersion) {
		return s.versionMismatchErr(msg.ServerProtocolVersion)
	}

	s.mu.RLock()
	atCapacity := len(s.rooms) >= s.cfg.MaxRoomsPerServer
	s.mu.RUnlock()
	if atCapacity {
		return &errs.Error{Kind: errs.KindRoomFull, Message: "server has reached its room capacity", ClientVisible: true, Context: map[string]any{"maxRoomsPerServer": s.cfg.MaxRoomsPerServer}}
	}

	roomID, err := generateRoomID()
	if err != nil {
		return errs.Wrap("handleCreateRoom", err, nil)
	}

	r := room.New(ctx, roomID, s.cfg.RoomConfig, s.compression, s.db, s.scheduler, s.errHandler)

	s.mu.Lock()
	s.rooms[roomID] = r
	s.mu.Unlock()
	metrics.RoomsActive.Inc()

	c := s.bindClient(clientID)
	joined, err := r.AddClient(c, room.IntentUpload)
	if err != nil {
		return err
	}
	metrics.ClientsConnected.Inc()

	if err := s.db.UpsertRoom(ctx, roomID, time.Now()); err != nil {
		s.errHandler.Handle(err, map[string]any{"roomId": roomID})
	}

	s.mu.Lock()
	s.clientIDToRoomID[clientID] = roomID
	s.mu.Unlock()

	s.send(socket, joined)
	return nil
}

func (s *Server) handleJoinRoom(ctx context.Context, socket Socket, clientID protocol.Id, raw []byte) error {
	var msg protocol.JoinRoomMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return errs.New(errs.KindInvalidMessage, "bad join_room frame").Visible()
	}
	if !s.isVersionCompatible(msg.ServerProtocolVersion) {
		return s.versionMismatchErr(msg.ServerProtocolVersion)
	}

	s.mu.RLock()
	r, ok := s.rooms[msg.RoomID]
	s.mu.RUnlock()
	if !ok {
		return &errs.Error{Kind: errs.KindRoomNotFound, Message: "room not found", ClientVisible: true, Context: map[string]any{"roomId": msg.RoomID}}
	}

	c := s.bindClient(clientID)
	intent := room.Intent(msg.Intent)
	joined, err := r.AddClient(c, intent)
	if err != nil {
		return err
	}
	metrics.ClientsConnected.Inc()

	s.mu.Lock()
	s.clientIDToRoomID[clientID] = msg.RoomID
	s.mu.Unlock()

	s.send(socket, joined)
	return nil
}

func (s *Server) bindClient(clientID protocol.Id) *client.Client {
	s.mu.RLock()
	socket := s.clientIDToSocket[clientID]
	s.mu.RUnlock()

	c := client.New(clientID, s.cfg.ServerProtocolVersion, socket, s.cfg.ClientConfig, s.scheduler, s.errHandler, s.onClientDisconnect)

	s.mu.Lock()
	s.clients[clientID] = c
	s.mu.Unlock()

	return c
}

func (s *Server) handleCommandBatch(clientID protocol.Id, raw []byte) error {
	var msg protocol.CommandBatchMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return errs.New(errs.KindInvalidMessage, "bad command_batch frame").Visible()
	}
	r := s.roomOf(clientID)
	if r == nil {
		return nil
	}
	r.HandleCommandBatch(clientID, msg.Commands)
	return nil
}

func (s *Server) handleHeartbeat(clientID protocol.Id, raw []byte) error {
	var msg protocol.HeartbeatMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return errs.New(errs.KindInvalidMessage, "bad heartbeat frame").Visible()
	}

	s.mu.RLock()
	c := s.clients[clientID]
	s.mu.RUnlock()
	if c == nil {
		return nil
	}
	c.UpdateFromHeartbeat(msg.Cursor, msg.LocalIdCounter)

	r := s.roomOf(clientID)
	if r == nil {
		return nil
	}
	r.HandleHeartbeat(c)
	return nil
}

func (s *Server) handleUploadState(clientID protocol.Id, raw []byte) error {
	var msg protocol.UploadStateMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return errs.New(errs.KindInvalidMessage, "bad upload_state frame").Visible()
	}
	r := s.roomOf(clientID)
	if r == nil {
		return nil
	}

	var doc protocol.AppState
	if err := s.compression.Decompress(msg.StateData, &doc); err != nil {
		return err
	}
	r.SetRoomState(clientID, &doc)
	return nil
}

func (s *Server) roomOf(clientID protocol.Id) *room.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roomID, ok := s.clientIDToRoomID[clientID]
	if !ok {
		return nil
	}
	return s.rooms[roomID]
}

// HandleDisconnection removes the socket mapping and the client.
func (s *Server) HandleDisconnection(ctx context.Context, clientID protocol.Id) {
	s.mu.Lock()
	delete(s.clientIDToSocket, clientID)
	s.mu.Unlock()
	s.removeClient(ctx, clientID)
}

func (s *Server) onClientDisconnect(clientID protocol.Id) {
	s.removeClient(context.Background(), clientID)
}

// removeClient drops clientID from every index and, if its room is now
// empty, disposes the room and removes it from the registry.
func (s *Server) removeClient(ctx context.Context, clientID protocol.Id) {
	s.mu.Lock()
	roomID, hadRoom := s.clientIDToRoomID[clientID]
	delete(s.clients, clientID)
	delete(s.clientIDToRoomID, clientID)
	delete(s.clientIDToSocket, clientID)
	s.mu.Unlock()

	if !hadRoom {
		return
	}

	s.mu.RLock()
	r := s.rooms[roomID]
	s.mu.RUnlock()
	if r == nil {
		return
	}

	r.RemoveClient(clientID)
	metrics.ClientsConnected.Dec()
	if r.ClientCount() == 0 {
		s.mu.Lock()
		delete(s.rooms, roomID)
		s.mu.Unlock()
		metrics.RoomsActive.Dec()
		r.Dispose(ctx)
	}
}

func (s *Server) send(socket Socket, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.errHandler.Handle(errs.Wrap("hub.send.marshal", err, nil), nil)
		return
	}
	if !socket.IsOpen() {
		return
	}
	if err := socket.Send(raw); err != nil {
		s.errHandler.Handle(err, nil)
	}
}
