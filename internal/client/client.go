// Package client is the per-connection state the rest of the server
// hands commands and heartbeats to: cursor, id counter, and the missed-
// heartbeat watchdog. It is transport-agnostic — Outbound is the abstract
// duplex channel it depends on; the concrete gorilla/websocket adapter
// lives in internal/transport/ws.
package client

import (
	"sync"
	"time"

	"github.com/graphrelay/relay/internal/errs"
	"github.com/graphrelay/relay/internal/protocol"
	"github.com/graphrelay/relay/internal/scheduler"
)

// Outbound is the abstract duplex message channel a Client writes to.
// IsOpen gates SendMessage so a closed connection never errors the
// caller; real implementations back this with a websocket connection's
// state.
type Outbound interface {
	IsOpen() bool
	Send(raw []byte) error
	Close() error
}

type Config struct {
	HeartbeatTimeoutMs  int
	MaxMissedHeartbeats int
}

// Client owns one connection's presence state.
type Client struct {
	ID              protocol.Id
	ProtocolVersion int

	mu               sync.Mutex
	cursor           protocol.Cursor
	localIdCounter   string
	lastHeartbeat    time.Time
	missedHeartbeats int

	outbound     Outbound
	cfg          Config
	scheduler    *scheduler.Scheduler
	errHandler   *errs.Handler
	onDisconnect func(id protocol.Id)
	timer        *scheduler.Handle
}

func New(id protocol.Id, protocolVersion int, outbound Outbound, cfg Config, sched *scheduler.Scheduler, errHandler *errs.Handler, onDisconnect func(id protocol.Id)) *Client {
	c := &Client{
		ID:              id,
		ProtocolVersion: protocolVersion,
		outbound:        outbound,
		cfg:             cfg,
		scheduler:       sched,
		errHandler:      errHandler,
		onDisconnect:    onDisconnect,
		lastHeartbeat:   time.Now(),
	}
	c.armTimer()
	return c
}

func (c *Client) armTimer() {
	c.timer = c.scheduler.SafeTimeout("Client.heartbeatTimeout", c.onTimeout, time.Duration(c.cfg.HeartbeatTimeoutMs)*time.Millisecond)
}

// UpdateFromHeartbeat records a heartbeat: cursor, id counter, timestamp,
// resets missedHeartbeats, and rearms the watchdog timer.
func (c *Client) UpdateFromHeartbeat(cursor protocol.Cursor, localIdCounter string) {
	c.mu.Lock()
	c.cursor = cursor
	c.localIdCounter = localIdCounter
	c.lastHeartbeat = time.Now()
	c.missedHeartbeats = 0
	c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
	}
	c.armTimer()
}

func (c *Client) onTimeout() {
	c.mu.Lock()
	c.missedHeartbeats++
	missed := c.missedHeartbeats
	c.mu.Unlock()

	if missed >= c.cfg.MaxMissedHeartbeats {
		c.disconnect()
		return
	}
	c.armTimer()
}

func (c *Client) disconnect() {
	if c.timer != nil {
		c.timer.Stop()
	}
	_ = c.outbound.Close()
	if c.onDisconnect != nil {
		c.onDisconnect(c.ID)
	}
}

// Disconnect is the externally triggered counterpart to the heartbeat
// watchdog's own timeout path — used by Room.dispose on remaining clients.
func (c *Client) Disconnect() {
	c.disconnect()
}

func (c *Client) Cursor() protocol.Cursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

func (c *Client) LocalIdCounter() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localIdCounter
}

// SendMessage writes raw only if the outbound channel is open; write
// errors are captured and routed to the error handler tagged with this
// client's id rather than propagated to the caller.
func (c *Client) SendMessage(raw []byte) {
	if !c.outbound.IsOpen() {
		return
	}
	if err := c.outbound.Send(raw); err != nil {
		c.errHandler.Handle(err, map[string]any{"clientId": c.ID})
	}
}
