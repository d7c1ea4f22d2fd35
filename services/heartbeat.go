package services

import (
	"context"
	"sync"
	"time"

	"presenced/models"
	"presenced/utils"
)

// OfflineFunc is invoked when a source transitions to offline. The record is
// the post-transition snapshot; for the editor source the session carries the
// timeout-ended lifecycle.
type OfflineFunc func(source string, rec *models.PresenceRecord, sess *models.Session)

// HeartbeatTracker polls heartbeat marks and declares a source offline when
// updates stop arriving. Transitions fire exactly once: the mark is not
// refreshed while offline and both MarkOffline and SessionTracker.End are
// idempotent. Store failures are logged and retried next tick.
type HeartbeatTracker struct {
	store    Store
	sessions *SessionTracker
	logger   *utils.Logger
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time

	mu        sync.Mutex
	observers []OfflineFunc
	done      chan struct{}
	wg        sync.WaitGroup
}

func NewHeartbeatTracker(store Store, sessions *SessionTracker, logger *utils.Logger, interval, timeout time.Duration) *HeartbeatTracker {
	return &HeartbeatTracker{
		store:    store,
		sessions: sessions,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
	}
}

// OnOffline registers an observer for offline transitions. Register before
// Start; the composition root is the only expected subscriber.
func (t *HeartbeatTracker) OnOffline(fn OfflineFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, fn)
}

// Start launches the poll loop. Stop cancels it.
func (t *HeartbeatTracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		return
	}
	t.done = make(chan struct{})
	t.wg.Add(1)
	go t.run(t.done)
}

func (t *HeartbeatTracker) Stop() {
	t.mu.Lock()
	if t.done == nil {
		t.mu.Unlock()
		return
	}
	done := t.done
	t.done = nil
	t.mu.Unlock()
	close(done)
	t.wg.Wait()
}

// Active reports whether the source's heartbeat mark is within the timeout.
func (t *HeartbeatTracker) Active(ctx context.Context, source string) bool {
	last, ok, err := t.store.LastSeen(ctx, source)
	if err != nil || !ok {
		return false
	}
	return t.now().Sub(last) < t.timeout
}

func (t *HeartbeatTracker) run(done chan struct{}) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

// tick runs one poll pass. The loop must survive anything a tick throws at
// it, so panics are contained here.
func (t *HeartbeatTracker) tick() {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("heartbeat poll panic", "error", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), t.interval)
	defer cancel()
	t.check(ctx)
}

// check examines every source and drives timed-out ones offline.
func (t *HeartbeatTracker) check(ctx context.Context) {
	for _, source := range models.Sources {
		last, ok, err := t.store.LastSeen(ctx, source)
		if err != nil {
			t.logger.Warn("heartbeat poll: store unavailable, retrying next tick", "source", source, "error", err)
			continue
		}
		if !ok || t.now().Sub(last) < t.timeout {
			continue
		}

		var sess *models.Session
		if source == models.SourceVSCode {
			ended, wasLive, endErr := t.sessions.End(ctx, models.EndReasonTimeout)
			if endErr != nil {
				t.logger.Warn("heartbeat poll: session end failed, retrying next tick", "error", endErr)
				continue
			}
			if wasLive {
				sess = ended
			}
		}

		rec, changed, err := t.store.MarkOffline(ctx, source)
		if err != nil {
			t.logger.Warn("heartbeat poll: offline mark failed, retrying next tick", "source", source, "error", err)
			continue
		}
		if !changed && sess == nil {
			continue
		}

		t.logger.Info("source timed out", "source", source, "last_seen", last)
		t.notify(source, rec, sess)
	}
}

func (t *HeartbeatTracker) notify(source string, rec *models.PresenceRecord, sess *models.Session) {
	t.mu.Lock()
	observers := make([]OfflineFunc, len(t.observers))
	copy(observers, t.observers)
	t.mu.Unlock()
	for _, fn := range observers {
		fn(source, rec, sess)
	}
}
