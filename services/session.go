package services

import (
	"context"
	"sync"
	"time"

	"presenced/models"
	"presenced/utils"
)

// SessionTracker owns the editor session lifecycle: no-session -> active ->
// ended, with a grace retention window after ending so recent-session
// duration stays queryable. The session key has a single writer (this
// tracker); the mutex serializes the read-modify-write cycles.
type SessionTracker struct {
	store     Store
	logger    *utils.Logger
	activeTTL time.Duration
	graceTTL  time.Duration
	now       func() time.Time
	mu        sync.Mutex
}

func NewSessionTracker(store Store, logger *utils.Logger, activeTTL, graceTTL time.Duration) *SessionTracker {
	return &SessionTracker{
		store:     store,
		logger:    logger,
		activeTTL: activeTTL,
		graceTTL:  graceTTL,
		now:       time.Now,
	}
}

// Start begins a session for sessionID. A start with a different sessionID
// while a session is active (or still retained after ending) replaces it:
// the previous editor instance is assumed to have closed without a clean
// shutdown.
func (t *SessionTracker) Start(ctx context.Context, sessionID string) (*models.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, err := t.store.Session(ctx)
	if err != nil {
		return nil, err
	}
	if cur != nil && cur.ID == sessionID && !cur.Ended() {
		// Duplicate start for the live session refreshes it.
		cur.LastHeartbeat = t.now()
		if err := t.store.SaveSession(ctx, cur, t.activeTTL); err != nil {
			return nil, err
		}
		return cur, nil
	}
	if cur != nil && !cur.Ended() {
		t.logger.Info("replacing stale session", "old_session", cur.ID, "new_session", sessionID)
	}

	now := t.now()
	sess := &models.Session{
		ID:            sessionID,
		StartTime:     now,
		LastHeartbeat: now,
		Status:        models.SessionActive,
	}
	if err := t.store.SaveSession(ctx, sess, t.activeTTL); err != nil {
		return nil, err
	}
	return sess, nil
}

// Heartbeat refreshes the live session, or starts one when none exists, the
// current one has ended, or the sessionID changed.
func (t *SessionTracker) Heartbeat(ctx context.Context, sessionID string) (*models.Session, error) {
	t.mu.Lock()
	cur, err := t.store.Session(ctx)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	if cur == nil || cur.Ended() || (sessionID != "" && cur.ID != sessionID) {
		t.mu.Unlock()
		if sessionID == "" && cur != nil {
			sessionID = cur.ID
		}
		return t.Start(ctx, sessionID)
	}
	defer t.mu.Unlock()

	cur.LastHeartbeat = t.now()
	if err := t.store.SaveSession(ctx, cur, t.activeTTL); err != nil {
		return nil, err
	}
	return cur, nil
}

// End closes the live session with the given reason. Idempotent: ending an
// already-ended (or absent) session reports ended=false and changes nothing.
// The ended record is retained for the grace window, then expires.
func (t *SessionTracker) End(ctx context.Context, reason models.EndReason) (*models.Session, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, err := t.store.Session(ctx)
	if err != nil {
		return nil, false, err
	}
	if cur == nil || cur.Ended() {
		return cur, false, nil
	}

	end := t.now()
	cur.EndTime = &end
	cur.Status = models.SessionEnded
	cur.EndReason = reason
	if err := t.store.SaveSession(ctx, cur, t.graceTTL); err != nil {
		return nil, false, err
	}
	t.logger.Info("session ended", "session", cur.ID, "reason", reason, "duration", cur.Duration(end).String())
	return cur, true, nil
}

// Current returns the session record (live or within the grace window).
func (t *SessionTracker) Current(ctx context.Context) (*models.Session, error) {
	return t.store.Session(ctx)
}
