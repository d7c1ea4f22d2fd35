package handlers

import (
	"io"
	"log/slog"
	"time"

	"presenced/services"
	"presenced/utils"
)

func testLogger() *utils.Logger {
	return &utils.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// newTestEngine wires the full service stack over the in-memory store. The
// real clock is fine here: handler tests exercise admission and lifecycle
// decisions that are immediate relative to the gate windows.
func newTestEngine() *services.PresenceEngine {
	logger := testLogger()
	store := services.NewMemoryStore(10*time.Minute, 24*time.Hour)
	sessions := services.NewSessionTracker(store, logger, 10*time.Minute, 5*time.Minute)
	policy := services.EquivalencePolicy{LineTolerance: 5, ColumnTolerance: 20, Window: 3 * time.Second}
	ingest := services.NewActivityIngest(store, logger, policy, 2*time.Second)
	tracker := services.NewHeartbeatTracker(store, sessions, logger, 5*time.Second, 30*time.Second)
	hub := services.NewBroadcastHub(logger, time.Minute)
	return services.NewPresenceEngine(store, sessions, ingest, tracker, hub, logger)
}
