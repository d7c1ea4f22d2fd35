package models

import (
	"encoding/json"
	"time"
)

// Monitored sources. The deployment tracks exactly one person, so each
// source has at most one record.
const (
	SourceDiscord = "discord"
	SourceVSCode  = "vscode"
)

// Sources lists all monitored sources in a stable order.
var Sources = []string{SourceDiscord, SourceVSCode}

// StatusMeta is the lifecycle metadata stored per source. Active arbitrates
// the current state: while a source is active OfflineSince is nil, and
// MarkOffline preserves OnlineSince so the just-ended online span stays
// displayable.
type StatusMeta struct {
	Active       bool       `json:"active"`
	OnlineSince  *time.Time `json:"online_since,omitempty"`
	OfflineSince *time.Time `json:"offline_since,omitempty"`
	LastSeen     time.Time  `json:"last_seen"`
}

// StoredActivity is the envelope persisted for a source's latest activity
// payload. The payload itself is opaque to the store.
type StoredActivity struct {
	Source     string          `json:"source"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// PresenceRecord is the merged view of a source: latest payload plus
// lifecycle timestamps. This is what gets broadcast to subscribers.
type PresenceRecord struct {
	Source       string          `json:"source"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Active       bool            `json:"active"`
	OnlineSince  *time.Time      `json:"online_since,omitempty"`
	OfflineSince *time.Time      `json:"offline_since,omitempty"`
	LastSeen     *time.Time      `json:"last_seen,omitempty"`
}

// VSCodeActivity is the editor activity payload delivered over HTTP.
type VSCodeActivity struct {
	SessionID string `json:"sessionId"`
	Workspace string `json:"workspace"`
	File      string `json:"file"`
	Language  string `json:"language,omitempty"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	GitBranch string `json:"gitBranch,omitempty"`
	Debugging bool   `json:"debugging,omitempty"`
}

type SessionStartRequest struct {
	SessionID string `json:"sessionId"`
}

type HeartbeatRequest struct {
	SessionID string `json:"sessionId"`
}

type ActivityResponse struct {
	Source       string          `json:"source"`
	Online       bool            `json:"online"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	OnlineSince  *time.Time      `json:"online_since,omitempty"`
	OfflineSince *time.Time      `json:"offline_since,omitempty"`
	LastSeen     *time.Time      `json:"last_seen,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

type IngestResponse struct {
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

type SourceHealth struct {
	Active     bool       `json:"active"`
	LastUpdate *time.Time `json:"last_update,omitempty"`
}

type HealthResponse struct {
	Status      string                  `json:"status"` // healthy or degraded
	Service     string                  `json:"service"`
	Store       string                  `json:"store"`
	Sources     map[string]SourceHealth `json:"sources"`
	Subscribers int                     `json:"subscribers"`
	Timestamp   time.Time               `json:"timestamp"`
}
