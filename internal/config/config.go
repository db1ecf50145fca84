// Package config loads the server's configuration table from environment
// variables. There is no flag parser or subcommand tree here by design —
// bootstrapping stays thin and external.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                   int
	ServerProtocolVersion  int
	ServerBufferMs         int
	HeartbeatIntervalMs    int
	HeartbeatTimeoutMs     int
	MaxMissedHeartbeats    int
	SnapshotIntervalMs     int
	MaxRoomsPerServer      int
	MaxClientsPerRoom      int
	MaxCommandBatchSize    int
	CompressionThreshold   int
	DatabasePath           string
	MaintenanceCron        string
	MaintenanceMaxAgeHours int
}

// Load reads .env (if present, ignored if absent) then the process
// environment, applying the defaults named in the configuration table.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:                   envInt("PORT", 8080),
		ServerProtocolVersion:  envInt("SERVER_PROTOCOL_VERSION", 1),
		ServerBufferMs:         envInt("SERVER_BUFFER_MS", 50),
		HeartbeatIntervalMs:    envInt("HEARTBEAT_INTERVAL_MS", 1000),
		HeartbeatTimeoutMs:     envInt("HEARTBEAT_TIMEOUT_MS", 5000),
		MaxMissedHeartbeats:    envInt("MAX_MISSED_HEARTBEATS", 3),
		SnapshotIntervalMs:     envInt("SNAPSHOT_INTERVAL_MS", 30000),
		MaxRoomsPerServer:      envInt("MAX_ROOMS_PER_SERVER", 1000),
		MaxClientsPerRoom:      envInt("MAX_CLIENTS_PER_ROOM", 10),
		MaxCommandBatchSize:    envInt("MAX_COMMAND_BATCH_SIZE", 100),
		CompressionThreshold:   envInt("COMPRESSION_THRESHOLD", 500),
		DatabasePath:           envStr("DATABASE_PATH", "graphrelay.db"),
		MaintenanceCron:        envStr("MAINTENANCE_CRON", "0 3 * * *"),
		MaintenanceMaxAgeHours: envInt("MAINTENANCE_MAX_AGE_HOURS", 168),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
