package store

import (
	"context"
	"testing"
	"time"
)

func TestRoomAndSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.UpsertRoom(ctx, "room1", time.Now()); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	room, err := s.GetRoom(ctx, "room1")
	if err != nil || room == nil {
		t.Fatalf("getRoom: %v, room=%v", err, room)
	}

	if err := s.SaveSnapshot(ctx, Snapshot{RoomID: "room1", StateData: []byte("abc"), CompressionMethod: "none", Timestamp: 1}); err != nil {
		t.Fatalf("saveSnapshot: %v", err)
	}
	if err := s.SaveSnapshot(ctx, Snapshot{RoomID: "room1", StateData: []byte("def"), CompressionMethod: "none", Timestamp: 2}); err != nil {
		t.Fatalf("saveSnapshot: %v", err)
	}

	latest, err := s.LoadSnapshot(ctx, "room1")
	if err != nil || latest == nil {
		t.Fatalf("loadSnapshot: %v, %v", err, latest)
	}
	if string(latest.StateData) != "def" {
		t.Fatalf("expected newest snapshot, got %q", latest.StateData)
	}
}

func TestLoadSnapshotMissingRoomReturnsNil(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	snap, err := s.LoadSnapshot(ctx, "nope")
	if err != nil {
		t.Fatalf("loadSnapshot: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected nil snapshot for missing room")
	}
}

func TestCleanupRetainsNewestSnapshots(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	for i := int64(1); i <= 5; i++ {
		if err := s.SaveSnapshot(ctx, Snapshot{RoomID: "r", StateData: []byte("x"), CompressionMethod: "none", Timestamp: i}); err != nil {
			t.Fatalf("saveSnapshot %d: %v", i, err)
		}
	}
	if err := s.Cleanup(ctx, time.Hour); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT timestamp FROM room_states WHERE room_id = 'r' ORDER BY timestamp`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()
	var got []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, ts)
	}
	if len(got) != SnapshotsPerRoomRetained {
		t.Fatalf("expected %d snapshots retained, got %d (%v)", SnapshotsPerRoomRetained, len(got), got)
	}
	for i, ts := range got {
		if ts != int64(i+3) {
			t.Fatalf("expected newest snapshots 3,4,5 retained, got %v", got)
		}
	}
}
