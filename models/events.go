package models

import "time"

// EventType labels a broadcast message. The names are part of the wire
// contract with deployed dashboards and must not change.
type EventType string

const (
	EventActivityUpdate EventType = "activity-update"
	EventVSCodeUpdate   EventType = "vscode-update"
	EventHeartbeat      EventType = "heartbeat"
	EventDiscordOffline EventType = "discord-offline"
	EventVSCodeOffline  EventType = "vscode-offline"
)

// Event is a single broadcast message. Timestamp is set server-side when the
// event is published.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// OfflinePayload carries the post-transition record, and for the editor
// source the session the transition ended.
type OfflinePayload struct {
	Record  *PresenceRecord `json:"record,omitempty"`
	Session *Session        `json:"session,omitempty"`
}
