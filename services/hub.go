package services

import (
	"sync"
	"time"

	"presenced/models"
	"presenced/utils"
)

// Subscriber is one open output stream. Send must not block on a slow
// consumer (drop instead) and must return an error only when the stream is
// gone for good. The hub owns the subscriber set exclusively.
type Subscriber interface {
	ID() string
	Send(evt models.Event) error
	Close()
}

// BroadcastHub fans state-change events out to every open subscriber, replays
// the latest known record per source to new subscribers, and prunes dead
// streams. It never mutates presence state; it only reads snapshots handed to
// it.
type BroadcastHub struct {
	logger    *utils.Logger
	keepalive time.Duration
	now       func() time.Time

	mu     sync.RWMutex
	subs   map[string]Subscriber
	stops  map[string]chan struct{}
	latest map[string]models.Event
}

func NewBroadcastHub(logger *utils.Logger, keepalive time.Duration) *BroadcastHub {
	return &BroadcastHub{
		logger:    logger,
		keepalive: keepalive,
		now:       time.Now,
		subs:      make(map[string]Subscriber),
		stops:     make(map[string]chan struct{}),
		latest:    make(map[string]models.Event),
	}
}

// Subscribe registers a stream, replays the latest record for each source so
// the subscriber is never blank until the next change, and starts its
// keepalive timer.
func (h *BroadcastHub) Subscribe(sub Subscriber) {
	h.mu.Lock()
	h.subs[sub.ID()] = sub
	done := make(chan struct{})
	h.stops[sub.ID()] = done
	replay := make([]models.Event, 0, len(h.latest))
	for _, source := range models.Sources {
		if evt, ok := h.latest[source]; ok {
			replay = append(replay, evt)
		}
	}
	h.mu.Unlock()

	for _, evt := range replay {
		if err := sub.Send(evt); err != nil {
			h.Remove(sub.ID())
			return
		}
	}

	go h.keepaliveLoop(sub, done)
	h.logger.Info("subscriber connected", "subscriber", sub.ID(), "total", h.Count())
}

// Remove detaches a subscriber. Safe to call from any path (keepalive
// failure, publish failure, connection abort); only the first call has any
// effect, and it cancels the subscriber's keepalive timer.
func (h *BroadcastHub) Remove(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, id)
	done := h.stops[id]
	delete(h.stops, id)
	h.mu.Unlock()

	close(done)
	sub.Close()
	h.logger.Info("subscriber removed", "subscriber", id, "total", h.Count())
}

// Publish delivers a labeled event to every open stream. Failed subscribers
// are queued for removal and purged after the pass; the snapshot means
// iteration never touches a set being mutated. When source is non-empty the
// event becomes that source's replay record.
func (h *BroadcastHub) Publish(evtType models.EventType, source string, data any) {
	evt := models.Event{Type: evtType, Timestamp: h.now(), Data: data}

	h.mu.Lock()
	if source != "" {
		h.latest[source] = evt
	}
	targets := make([]Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	var dead []string
	for _, sub := range targets {
		if err := sub.Send(evt); err != nil {
			dead = append(dead, sub.ID())
		}
	}
	for _, id := range dead {
		h.Remove(id)
	}
}

// Prime seeds the replay cache for a source without notifying anyone, used at
// startup to surface state persisted before the process began.
func (h *BroadcastHub) Prime(evtType models.EventType, source string, rec *models.PresenceRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest[source] = models.Event{Type: evtType, Timestamp: h.now(), Data: rec}
}

// Count returns the number of open subscribers.
func (h *BroadcastHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close detaches every subscriber, ending their streams.
func (h *BroadcastHub) Close() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.Remove(id)
	}
}

func (h *BroadcastHub) keepaliveLoop(sub Subscriber, done chan struct{}) {
	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ping := models.Event{Type: models.EventHeartbeat, Timestamp: h.now()}
			if err := sub.Send(ping); err != nil {
				h.Remove(sub.ID())
				return
			}
		}
	}
}
