// Command relayd is the composition root: it wires configuration,
// logging, storage, and the websocket transport adapter together. It is
// deliberately small — no flag parser, no subcommands — since CLI
// bootstrapping is out of scope for the core this binary runs.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/graphrelay/relay/internal/client"
	"github.com/graphrelay/relay/internal/compress"
	"github.com/graphrelay/relay/internal/config"
	"github.com/graphrelay/relay/internal/errs"
	"github.com/graphrelay/relay/internal/hub"
	"github.com/graphrelay/relay/internal/room"
	"github.com/graphrelay/relay/internal/scheduler"
	"github.com/graphrelay/relay/internal/store"
	"github.com/graphrelay/relay/internal/transport/ws"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	errHandler := errs.NewHandler(log)
	sched := scheduler.New(errHandler)
	comp := compress.NewManager(compress.GzipProvider{}, cfg.CompressionThreshold)

	maint, err := scheduler.NewMaintenance(log, cfg.MaintenanceCron, time.Duration(cfg.MaintenanceMaxAgeHours)*time.Hour, db.Cleanup)
	if err != nil {
		log.Fatal("failed to set up maintenance scheduler", zap.Error(err))
	}
	maint.Start()
	defer maint.Stop()

	hubCfg := hub.Config{
		ServerProtocolVersion: cfg.ServerProtocolVersion,
		MaxRoomsPerServer:     cfg.MaxRoomsPerServer,
		RoomConfig: room.Config{
			SnapshotIntervalMs:  cfg.SnapshotIntervalMs,
			HeartbeatIntervalMs: cfg.HeartbeatIntervalMs,
			MaxClients:          cfg.MaxClientsPerRoom,
			BufferTimeMs:        cfg.ServerBufferMs,
			MaxCommandBatchSize: cfg.MaxCommandBatchSize,
		},
		ClientConfig: client.Config{
			HeartbeatTimeoutMs:  cfg.HeartbeatTimeoutMs,
			MaxMissedHeartbeats: cfg.MaxMissedHeartbeats,
		},
	}

	h := hub.New(hubCfg, comp, db, sched, errHandler, log)
	wsServer := ws.NewServer(h, log)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsServer)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}

	go func() {
		log.Info("graphrelay listening", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
