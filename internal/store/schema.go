package store

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	room_id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	last_updated INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rooms_last_updated ON rooms(last_updated);

CREATE TABLE IF NOT EXISTS room_states (
	room_id TEXT NOT NULL,
	state_data BLOB NOT NULL,
	compression_method TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	PRIMARY KEY (room_id, timestamp)
);
CREATE INDEX IF NOT EXISTS idx_room_states_room_ts ON room_states(room_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS commands (
	command_id TEXT PRIMARY KEY,
	room_id TEXT NOT NULL,
	client_id TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	command_type TEXT NOT NULL,
	payload BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commands_room_ts ON commands(room_id, timestamp);
`
