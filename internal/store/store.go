// Package store owns the idempotent SQLite schema bootstrap and the
// room/snapshot/command persistence operations. Every driver error is
// wrapped as an internal-kind error with structured operation context,
// matching the propagation policy every other component follows.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/graphrelay/relay/internal/errs"
	"github.com/graphrelay/relay/internal/protocol"

	_ "modernc.org/sqlite"
)

// Store wraps a *sql.DB. SQLite permits one writer at a time, so like the
// pack's own sqlite wiring, MaxOpenConns is pinned to 1 — callers rely on
// database/sql's own pooling/serialization rather than an extra mutex.
type Store struct {
	db *sql.DB
}

// Room is a row of the rooms table.
type Room struct {
	RoomID      protocol.Id
	CreatedAt   int64
	LastUpdated int64
}

// Snapshot is a row of the room_states table.
type Snapshot struct {
	RoomID             protocol.Id
	StateData          []byte
	CompressionMethod  string
	Timestamp          int64
}

// SnapshotsPerRoomRetained bounds how many snapshots Cleanup keeps per room.
const SnapshotsPerRoomRetained = 3

func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap("store.open", err, map[string]any{"path": path})
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errs.Wrap("store.bootstrap", err, map[string]any{"path": path})
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) UpsertRoom(ctx context.Context, roomID protocol.Id, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (room_id, created_at, last_updated) VALUES (?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET last_updated = excluded.last_updated
	`, roomID, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return errs.Wrap("store.upsertRoom", err, map[string]any{"roomId": roomID})
	}
	return nil
}

func (s *Store) GetRoom(ctx context.Context, roomID protocol.Id) (*Room, error) {
	row := s.db.QueryRowContext(ctx, `SELECT room_id, created_at, last_updated FROM rooms WHERE room_id = ?`, roomID)
	var r Room
	if err := row.Scan(&r.RoomID, &r.CreatedAt, &r.LastUpdated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errs.Wrap("store.getRoom", err, map[string]any{"roomId": roomID})
	}
	return &r, nil
}

func (s *Store) ListRooms(ctx context.Context) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT room_id, created_at, last_updated FROM rooms ORDER BY last_updated DESC`)
	if err != nil {
		return nil, errs.Wrap("store.listRooms", err, nil)
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.RoomID, &r.CreatedAt, &r.LastUpdated); err != nil {
			return nil, errs.Wrap("store.listRooms", err, nil)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_states (room_id, state_data, compression_method, timestamp) VALUES (?, ?, ?, ?)
	`, snap.RoomID, snap.StateData, snap.CompressionMethod, snap.Timestamp)
	if err != nil {
		return errs.Wrap("store.saveSnapshot", err, map[string]any{"roomId": snap.RoomID})
	}
	return nil
}

// LoadSnapshot returns the newest snapshot for a room, or nil if none exists.
func (s *Store) LoadSnapshot(ctx context.Context, roomID protocol.Id) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT room_id, state_data, compression_method, timestamp FROM room_states
		WHERE room_id = ? ORDER BY timestamp DESC LIMIT 1
	`, roomID)
	var snap Snapshot
	if err := row.Scan(&snap.RoomID, &snap.StateData, &snap.CompressionMethod, &snap.Timestamp); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errs.Wrap("store.loadSnapshot", err, map[string]any{"roomId": roomID})
	}
	return &snap, nil
}

type CommandRecord struct {
	CommandID   protocol.Id
	RoomID      protocol.Id
	ClientID    protocol.Id
	Timestamp   int64
	CommandType string
	Payload     []byte
}

func (s *Store) SaveCommand(ctx context.Context, c CommandRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO commands (command_id, room_id, client_id, timestamp, command_type, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.CommandID, c.RoomID, c.ClientID, c.Timestamp, c.CommandType, c.Payload)
	if err != nil {
		return errs.Wrap("store.saveCommand", err, map[string]any{"roomId": c.RoomID, "commandId": c.CommandID})
	}
	return nil
}

// Cleanup removes commands older than maxAge and retains only the newest
// SnapshotsPerRoomRetained snapshots per room.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge).UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap("store.cleanup", err, nil)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM commands WHERE timestamp < ?`, cutoff); err != nil {
		return errs.Wrap("store.cleanup.commands", err, map[string]any{"cutoff": cutoff})
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM room_states
		WHERE (room_id, timestamp) NOT IN (
			SELECT room_id, timestamp FROM (
				SELECT room_id, timestamp,
				       ROW_NUMBER() OVER (PARTITION BY room_id ORDER BY timestamp DESC) AS rn
				FROM room_states
			) ranked
			WHERE rn <= ?
		)
	`, SnapshotsPerRoomRetained); err != nil {
		return errs.Wrap("store.cleanup.snapshots", err, nil)
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap("store.cleanup", err, nil)
	}
	return nil
}
