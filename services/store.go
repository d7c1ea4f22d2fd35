package services

import (
	"context"
	"encoding/json"
	"time"

	"presenced/models"
)

// Store is the durable state layer shared by every component. All mutation of
// presence state goes through it; each logical key has exactly one writer
// path, so no cross-component locking is needed.
type Store interface {
	// SetActivity persists payload for source, computes the offline->online
	// transition against the previous status, and refreshes the heartbeat
	// mark, all as one atomic batch. Returns the post-update record.
	SetActivity(ctx context.Context, source string, payload json.RawMessage) (*models.PresenceRecord, error)

	// Activity returns the merged record for source, or nil when nothing is
	// stored. For the editor source, missing status metadata falls back to
	// the session's start/end timestamps.
	Activity(ctx context.Context, source string) (*models.PresenceRecord, error)

	// LastStored returns the raw activity envelope for source, or nil.
	LastStored(ctx context.Context, source string) (*models.StoredActivity, error)

	// MarkOffline records the online->offline transition. Idempotent: the
	// returned bool is true only when a transition actually happened.
	MarkOffline(ctx context.Context, source string) (*models.PresenceRecord, bool, error)

	// TouchHeartbeat refreshes the heartbeat mark for source without
	// rewriting activity content.
	TouchHeartbeat(ctx context.Context, source string) error

	// LastSeen returns the heartbeat mark for source; ok is false when no
	// mark exists.
	LastSeen(ctx context.Context, source string) (time.Time, bool, error)

	// Session returns the current session record, or nil. Expired records
	// read as nil.
	Session(ctx context.Context) (*models.Session, error)

	// SaveSession persists the session record with the given TTL.
	SaveSession(ctx context.Context, s *models.Session, ttl time.Duration) error

	// RateLimitRemaining reports whether the cooldown marker for sessionID is
	// still live and how long until it expires.
	RateLimitRemaining(ctx context.Context, sessionID string) (time.Duration, bool, error)

	// MarkRateLimit sets the cooldown marker for sessionID.
	MarkRateLimit(ctx context.Context, sessionID string, cooldown time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}

// applyActivity folds an accepted activity into the status metadata,
// computing the offline->online transition. LastSeen never decreases.
func applyActivity(meta *models.StatusMeta, now time.Time) *models.StatusMeta {
	if meta == nil {
		meta = &models.StatusMeta{}
	}
	if !meta.Active {
		meta.Active = true
		since := now
		meta.OnlineSince = &since
		meta.OfflineSince = nil
	}
	if now.After(meta.LastSeen) {
		meta.LastSeen = now
	}
	return meta
}

// applyOffline folds the online->offline transition into the status metadata.
// OnlineSince is preserved so the ended online span stays displayable. The
// returned bool is false when the source was already offline.
func applyOffline(meta *models.StatusMeta, now time.Time) (*models.StatusMeta, bool) {
	if meta == nil || !meta.Active {
		return meta, false
	}
	meta.Active = false
	since := now
	meta.OfflineSince = &since
	return meta, true
}

// buildRecord merges the activity envelope and status metadata into the
// broadcastable view. Either part may be nil.
func buildRecord(source string, env *models.StoredActivity, meta *models.StatusMeta) *models.PresenceRecord {
	rec := &models.PresenceRecord{Source: source}
	if env != nil {
		rec.Payload = env.Payload
	}
	if meta != nil {
		rec.Active = meta.Active
		rec.OnlineSince = meta.OnlineSince
		rec.OfflineSince = meta.OfflineSince
		if !meta.LastSeen.IsZero() {
			seen := meta.LastSeen
			rec.LastSeen = &seen
		}
	} else if env != nil {
		seen := env.ReceivedAt
		rec.LastSeen = &seen
	}
	return rec
}

// sessionRecord synthesizes a record from the session lifecycle when no
// status metadata is stored for the editor source.
func sessionRecord(source string, env *models.StoredActivity, sess *models.Session) *models.PresenceRecord {
	rec := &models.PresenceRecord{Source: source, Active: !sess.Ended()}
	if env != nil {
		rec.Payload = env.Payload
	}
	start := sess.StartTime
	rec.OnlineSince = &start
	rec.OfflineSince = sess.EndTime
	seen := sess.LastHeartbeat
	rec.LastSeen = &seen
	return rec
}
