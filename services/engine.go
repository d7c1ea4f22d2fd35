package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"presenced/models"
	"presenced/utils"
)

// PresenceEngine is the composition root: it wires chat-platform callbacks
// and HTTP ingestion into the store and session tracker, and pushes every
// resulting state change into the broadcast hub.
type PresenceEngine struct {
	store    Store
	sessions *SessionTracker
	ingest   *ActivityIngest
	tracker  *HeartbeatTracker
	hub      *BroadcastHub
	logger   *utils.Logger
	now      func() time.Time
}

func NewPresenceEngine(store Store, sessions *SessionTracker, ingest *ActivityIngest, tracker *HeartbeatTracker, hub *BroadcastHub, logger *utils.Logger) *PresenceEngine {
	e := &PresenceEngine{
		store:    store,
		sessions: sessions,
		ingest:   ingest,
		tracker:  tracker,
		hub:      hub,
		logger:   logger,
		now:      time.Now,
	}
	tracker.OnOffline(e.handleSourceOffline)
	return e
}

// Start primes the hub's replay cache from persisted state and launches the
// liveness poll loop.
func (e *PresenceEngine) Start(ctx context.Context) {
	for _, source := range models.Sources {
		rec, err := e.store.Activity(ctx, source)
		if err != nil || rec == nil {
			continue
		}
		e.hub.Prime(updateEventType(source), source, rec)
	}
	e.tracker.Start()
}

// Stop halts background work and ends all subscriber streams.
func (e *PresenceEngine) Stop() {
	e.tracker.Stop()
	e.hub.Close()
}

// HandleDiscordActivity is the registration point for the chat-platform
// client: it consumes a normalized activity-observed payload.
func (e *PresenceEngine) HandleDiscordActivity(ctx context.Context, payload json.RawMessage) error {
	rec, err := e.store.SetActivity(ctx, models.SourceDiscord, payload)
	if err != nil {
		return fmt.Errorf("discord activity: %w", err)
	}
	e.hub.Publish(models.EventActivityUpdate, models.SourceDiscord, rec)
	return nil
}

// HandleVSCodeActivity runs an editor activity update through the admission
// gates, ensures a live session, persists it, and broadcasts the result.
// Rejected updates return a non-accepted result, not an error.
func (e *PresenceEngine) HandleVSCodeActivity(ctx context.Context, act models.VSCodeActivity) (IngestResult, error) {
	res, err := e.ingest.Admit(ctx, act)
	if err != nil {
		return IngestResult{}, fmt.Errorf("vscode activity: %w", err)
	}
	if !res.Accepted {
		return res, nil
	}

	if _, err := e.sessions.Heartbeat(ctx, act.SessionID); err != nil {
		return IngestResult{}, fmt.Errorf("vscode activity: %w", err)
	}

	payload, err := json.Marshal(act)
	if err != nil {
		return IngestResult{}, fmt.Errorf("vscode activity: %w", err)
	}
	rec, err := e.store.SetActivity(ctx, models.SourceVSCode, payload)
	if err != nil {
		return IngestResult{}, fmt.Errorf("vscode activity: %w", err)
	}

	e.hub.Publish(models.EventVSCodeUpdate, models.SourceVSCode, rec)
	return res, nil
}

// HandleVSCodeHeartbeat refreshes session and source liveness without going
// through the ingest content path.
func (e *PresenceEngine) HandleVSCodeHeartbeat(ctx context.Context, sessionID string) error {
	if _, err := e.sessions.Heartbeat(ctx, sessionID); err != nil {
		return fmt.Errorf("vscode heartbeat: %w", err)
	}
	if err := e.store.TouchHeartbeat(ctx, models.SourceVSCode); err != nil {
		return fmt.Errorf("vscode heartbeat: %w", err)
	}
	return nil
}

// HandleSessionStart explicitly begins (or replaces) the editor session.
func (e *PresenceEngine) HandleSessionStart(ctx context.Context, sessionID string) (*models.Session, error) {
	sess, err := e.sessions.Start(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session start: %w", err)
	}
	if err := e.store.TouchHeartbeat(ctx, models.SourceVSCode); err != nil {
		return nil, fmt.Errorf("session start: %w", err)
	}
	return sess, nil
}

// HandleVSCodeCleanup ends the editor session on explicit producer request
// and marks the source offline, broadcasting the transition when one
// happened.
func (e *PresenceEngine) HandleVSCodeCleanup(ctx context.Context) (*models.Session, error) {
	sess, ended, err := e.sessions.End(ctx, models.EndReasonManual)
	if err != nil {
		return nil, fmt.Errorf("vscode cleanup: %w", err)
	}
	rec, changed, err := e.store.MarkOffline(ctx, models.SourceVSCode)
	if err != nil {
		return nil, fmt.Errorf("vscode cleanup: %w", err)
	}
	if ended || changed {
		e.hub.Publish(models.EventVSCodeOffline, models.SourceVSCode, models.OfflinePayload{Record: rec, Session: sess})
	}
	return sess, nil
}

// DiscordRecord returns the chat-platform record merged with lifecycle
// timestamps, or a synthesized offline default when nothing is stored.
func (e *PresenceEngine) DiscordRecord(ctx context.Context) *models.PresenceRecord {
	rec, err := e.store.Activity(ctx, models.SourceDiscord)
	if err != nil || rec == nil {
		return &models.PresenceRecord{Source: models.SourceDiscord}
	}
	return rec
}

// CurrentSession exposes the session record for duration queries.
func (e *PresenceEngine) CurrentSession(ctx context.Context) (*models.Session, error) {
	return e.sessions.Current(ctx)
}

// Subscribe attaches a stream to the broadcast hub.
func (e *PresenceEngine) Subscribe(sub Subscriber) {
	e.hub.Subscribe(sub)
}

// Unsubscribe detaches a stream, cancelling its keepalive.
func (e *PresenceEngine) Unsubscribe(id string) {
	e.hub.Remove(id)
}

// Health assembles the operational snapshot for /health. Store failures
// degrade the status rather than erroring.
func (e *PresenceEngine) Health(ctx context.Context) models.HealthResponse {
	resp := models.HealthResponse{
		Status:      "healthy",
		Service:     "presenced",
		Store:       "ok",
		Sources:     make(map[string]models.SourceHealth, len(models.Sources)),
		Subscribers: e.hub.Count(),
		Timestamp:   e.now(),
	}
	if err := e.store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Store = err.Error()
	}
	for _, source := range models.Sources {
		health := models.SourceHealth{Active: e.tracker.Active(ctx, source)}
		if rec, err := e.store.Activity(ctx, source); err == nil && rec != nil {
			health.LastUpdate = rec.LastSeen
		}
		resp.Sources[source] = health
	}
	return resp
}

func (e *PresenceEngine) handleSourceOffline(source string, rec *models.PresenceRecord, sess *models.Session) {
	evtType := models.EventDiscordOffline
	if source == models.SourceVSCode {
		evtType = models.EventVSCodeOffline
	}
	e.hub.Publish(evtType, source, models.OfflinePayload{Record: rec, Session: sess})
}

func updateEventType(source string) models.EventType {
	if source == models.SourceVSCode {
		return models.EventVSCodeUpdate
	}
	return models.EventActivityUpdate
}
