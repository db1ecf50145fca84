// Package ws is the concrete gorilla/websocket adapter satisfying the
// abstract duplex-channel interfaces hub/room/client depend on. The core
// never imports gorilla/websocket directly, keeping transport framing
// entirely out of the collaboration logic.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/graphrelay/relay/internal/hub"
	"github.com/graphrelay/relay/internal/protocol"

	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Socket wraps one gorilla/websocket connection and implements
// hub.Socket/client.Outbound.
type Socket struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newSocket(conn *websocket.Conn) *Socket {
	return &Socket{conn: conn, send: make(chan []byte, 256)}
}

func (s *Socket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *Socket) Send(raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	select {
	case s.send <- raw:
		return nil
	default:
		// Slow consumer: drop rather than block the room's broadcast path.
		return nil
	}
}

func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.send)
	s.mu.Unlock()
	return s.conn.Close()
}

// Server bridges net/http + gorilla/websocket to a hub.Server.
type Server struct {
	hub *hub.Server
	log *zap.Logger
}

func NewServer(h *hub.Server, log *zap.Logger) *Server {
	return &Server{hub: h, log: log}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sock := newSocket(conn)
	ctx := r.Context()
	clientID := s.hub.HandleConnection(ctx, sock)

	go s.writePump(sock)
	s.readPump(ctx, sock, clientID)
}

func (s *Server) readPump(ctx context.Context, sock *Socket, clientID protocol.Id) {
	defer func() {
		s.hub.HandleDisconnection(ctx, clientID)
		sock.Close()
	}()

	sock.conn.SetReadDeadline(time.Now().Add(pongWait))
	sock.conn.SetPongHandler(func(string) error {
		sock.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := sock.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Warn("websocket read error", zap.Error(err), zap.String("clientId", clientID))
			}
			return
		}
		s.hub.HandleMessage(ctx, sock, clientID, raw)
	}
}

func (s *Server) writePump(sock *Socket) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sock.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sock.send:
			sock.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sock.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := sock.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			sock.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sock.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
