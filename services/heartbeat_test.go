package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presenced/models"
)

type offlineRecorder struct {
	mu    sync.Mutex
	calls []string
	sess  map[string]*models.Session
}

func newOfflineRecorder() *offlineRecorder {
	return &offlineRecorder{sess: make(map[string]*models.Session)}
}

func (r *offlineRecorder) record(source string, _ *models.PresenceRecord, sess *models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, source)
	r.sess[source] = sess
}

func (r *offlineRecorder) count(source string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.calls {
		if s == source {
			n++
		}
	}
	return n
}

func newTestTracker(clk *fakeClock, store *MemoryStore, sessions *SessionTracker) *HeartbeatTracker {
	tr := NewHeartbeatTracker(store, sessions, testLogger(), 5*time.Second, 30*time.Second)
	tr.now = clk.Now
	return tr
}

func TestTimeoutTransitionsSourceOfflineExactlyOnce(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	store := newTestStore(clk)
	sessions := newTestSessions(clk, store)
	tracker := newTestTracker(clk, store, sessions)
	rec := newOfflineRecorder()
	tracker.OnOffline(rec.record)
	ctx := context.Background()

	_, err := store.SetActivity(ctx, models.SourceDiscord, json.RawMessage(`{}`))
	require.NoError(t, err)

	// Within the timeout nothing fires.
	clk.Advance(20 * time.Second)
	tracker.check(ctx)
	assert.Equal(t, 0, rec.count(models.SourceDiscord))

	// Past the timeout the transition fires once.
	clk.Advance(15 * time.Second)
	tracker.check(ctx)
	assert.Equal(t, 1, rec.count(models.SourceDiscord))

	// Subsequent polls see an already-offline source and stay quiet.
	clk.Advance(5 * time.Second)
	tracker.check(ctx)
	tracker.check(ctx)
	assert.Equal(t, 1, rec.count(models.SourceDiscord))

	stored, err := store.Activity(ctx, models.SourceDiscord)
	require.NoError(t, err)
	assert.False(t, stored.Active)
}

func TestTimeoutEndsEditorSession(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	store := newTestStore(clk)
	sessions := newTestSessions(clk, store)
	tracker := newTestTracker(clk, store, sessions)
	rec := newOfflineRecorder()
	tracker.OnOffline(rec.record)
	ctx := context.Background()

	_, err := sessions.Start(ctx, "s1")
	require.NoError(t, err)
	_, err = store.SetActivity(ctx, models.SourceVSCode, json.RawMessage(`{"sessionId":"s1"}`))
	require.NoError(t, err)

	clk.Advance(31 * time.Second)
	tracker.check(ctx)

	require.Equal(t, 1, rec.count(models.SourceVSCode))
	sess := rec.sess[models.SourceVSCode]
	require.NotNil(t, sess)
	assert.Equal(t, models.SessionEnded, sess.Status)
	assert.Equal(t, models.EndReasonTimeout, sess.EndReason)

	clk.Advance(5 * time.Second)
	tracker.check(ctx)
	assert.Equal(t, 1, rec.count(models.SourceVSCode))
}

func TestActiveTracksMarkFreshness(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	store := newTestStore(clk)
	tracker := newTestTracker(clk, store, newTestSessions(clk, store))
	ctx := context.Background()

	assert.False(t, tracker.Active(ctx, models.SourceDiscord))

	require.NoError(t, store.TouchHeartbeat(ctx, models.SourceDiscord))
	assert.True(t, tracker.Active(ctx, models.SourceDiscord))

	clk.Advance(31 * time.Second)
	assert.False(t, tracker.Active(ctx, models.SourceDiscord))
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	store := newTestStore(clk)
	tracker := NewHeartbeatTracker(store, newTestSessions(clk, store), testLogger(), 10*time.Millisecond, 30*time.Second)

	tracker.Start()
	tracker.Start() // second start is a no-op
	time.Sleep(30 * time.Millisecond)
	tracker.Stop()
	tracker.Stop() // second stop is a no-op
}
