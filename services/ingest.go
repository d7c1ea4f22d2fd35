package services

import (
	"context"
	"encoding/json"
	"time"

	"presenced/models"
	"presenced/utils"
)

// Rejection reasons returned to producers. Rejections are
// success-with-reason, never errors: producers must be able to distinguish
// "dropped for noise" from "request failed".
const (
	ReasonRateLimited = "rate_limited"
	ReasonNoChange    = "no_meaningful_change"
)

// IngestResult is the outcome of running an editor activity update through
// the admission gates.
type IngestResult struct {
	Accepted   bool
	Reason     string
	RetryAfter time.Duration
}

// EquivalencePolicy decides whether two activity payloads are the same for
// dedup purposes. Tolerances come from configuration so they are testable
// rather than inline literals.
type EquivalencePolicy struct {
	LineTolerance   int
	ColumnTolerance int
	Window          time.Duration
}

// Equivalent compares the semantically meaningful fields: workspace
// identity, file path, branch, and cursor position within tolerance.
func (p EquivalencePolicy) Equivalent(a, b models.VSCodeActivity) bool {
	if a.Workspace != b.Workspace || a.File != b.File || a.GitBranch != b.GitBranch {
		return false
	}
	if a.Debugging != b.Debugging {
		return false
	}
	return absDiff(a.Line, b.Line) <= p.LineTolerance && absDiff(a.Column, b.Column) <= p.ColumnTolerance
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// ActivityIngest validates, deduplicates, and rate-limits editor activity
// updates before they reach the store.
type ActivityIngest struct {
	store    Store
	logger   *utils.Logger
	policy   EquivalencePolicy
	cooldown time.Duration
	now      func() time.Time
}

func NewActivityIngest(store Store, logger *utils.Logger, policy EquivalencePolicy, cooldown time.Duration) *ActivityIngest {
	return &ActivityIngest{
		store:    store,
		logger:   logger,
		policy:   policy,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Admit runs the admission gates. The similarity check runs before the
// cooldown check so a quiet editor still refreshes liveness: an equivalent
// update touches the heartbeat mark even while the cooldown is live. The
// cooldown marker is only set for accepted updates, so it always measures
// spacing from the last accepted update.
func (in *ActivityIngest) Admit(ctx context.Context, act models.VSCodeActivity) (IngestResult, error) {
	// Gate 1: similarity dedup against the last stored payload.
	env, err := in.store.LastStored(ctx, models.SourceVSCode)
	if err != nil {
		return IngestResult{}, err
	}
	if env != nil && in.now().Sub(env.ReceivedAt) <= in.policy.Window {
		var prev models.VSCodeActivity
		if json.Unmarshal(env.Payload, &prev) == nil && in.policy.Equivalent(prev, act) {
			// No new content, but the user is demonstrably alive.
			if err := in.store.TouchHeartbeat(ctx, models.SourceVSCode); err != nil {
				return IngestResult{}, err
			}
			in.logger.Debug("activity deduplicated", "session", act.SessionID, "file", act.File)
			return IngestResult{Reason: ReasonNoChange}, nil
		}
	}

	// Gate 2: per-session cooldown.
	remaining, limited, err := in.store.RateLimitRemaining(ctx, act.SessionID)
	if err != nil {
		return IngestResult{}, err
	}
	if limited {
		in.logger.Debug("activity rate limited", "session", act.SessionID, "retry_after", remaining.String())
		return IngestResult{Reason: ReasonRateLimited, RetryAfter: remaining}, nil
	}

	if err := in.store.MarkRateLimit(ctx, act.SessionID, in.cooldown); err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Accepted: true}, nil
}
