package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"presenced/models"
)

// MemoryStore implements Store in process memory with lazy TTL expiry. It
// backs local development runs (REDIS_URL=memory) and tests; production
// deployments use RedisStore.
type MemoryStore struct {
	mu sync.Mutex

	activity    map[string]*models.StoredActivity
	activityExp map[string]time.Time
	status      map[string]*models.StatusMeta
	marks       map[string]time.Time
	marksExp    map[string]time.Time
	rateLimit   map[string]time.Time

	session    *models.Session
	sessionExp time.Time

	activityTTL time.Duration
	statusTTL   time.Duration
	now         func() time.Time
}

func NewMemoryStore(activityTTL, statusTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		activity:    make(map[string]*models.StoredActivity),
		activityExp: make(map[string]time.Time),
		status:      make(map[string]*models.StatusMeta),
		marks:       make(map[string]time.Time),
		marksExp:    make(map[string]time.Time),
		rateLimit:   make(map[string]time.Time),
		activityTTL: activityTTL,
		statusTTL:   statusTTL,
		now:         time.Now,
	}
}

func (s *MemoryStore) SetActivity(_ context.Context, source string, payload json.RawMessage) (*models.PresenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	meta := applyActivity(cloneMeta(s.status[source]), now)
	env := &models.StoredActivity{Source: source, Payload: payload, ReceivedAt: now}

	s.activity[source] = env
	s.activityExp[source] = now.Add(s.activityTTL)
	s.status[source] = meta
	s.marks[source] = now
	s.marksExp[source] = now.Add(s.activityTTL)

	return buildRecord(source, env, cloneMeta(meta)), nil
}

func (s *MemoryStore) Activity(_ context.Context, source string) (*models.PresenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env := s.liveActivity(source)
	meta := cloneMeta(s.status[source])

	if meta == nil && source == models.SourceVSCode {
		if sess := s.liveSession(); sess != nil {
			return sessionRecord(source, env, sess), nil
		}
	}
	if env == nil && meta == nil {
		return nil, nil
	}
	return buildRecord(source, env, meta), nil
}

func (s *MemoryStore) LastStored(_ context.Context, source string) (*models.StoredActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveActivity(source), nil
}

func (s *MemoryStore) MarkOffline(_ context.Context, source string) (*models.PresenceRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, changed := applyOffline(cloneMeta(s.status[source]), s.now())
	if changed {
		s.status[source] = meta
	}
	return buildRecord(source, s.liveActivity(source), cloneMeta(meta)), changed, nil
}

func (s *MemoryStore) TouchHeartbeat(_ context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.marks[source] = now
	s.marksExp[source] = now.Add(s.activityTTL)
	return nil
}

func (s *MemoryStore) LastSeen(_ context.Context, source string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mark, ok := s.marks[source]
	if !ok || s.now().After(s.marksExp[source]) {
		return time.Time{}, false, nil
	}
	return mark, true, nil
}

func (s *MemoryStore) Session(_ context.Context) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.liveSession()
	if sess == nil {
		return nil, nil
	}
	copied := *sess
	return &copied, nil
}

func (s *MemoryStore) SaveSession(_ context.Context, sess *models.Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sess
	s.session = &copied
	s.sessionExp = s.now().Add(ttl)
	return nil
}

func (s *MemoryStore) RateLimitRemaining(_ context.Context, sessionID string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.rateLimit[sessionID]
	if !ok {
		return 0, false, nil
	}
	remaining := exp.Sub(s.now())
	if remaining <= 0 {
		delete(s.rateLimit, sessionID)
		return 0, false, nil
	}
	return remaining, true, nil
}

func (s *MemoryStore) MarkRateLimit(_ context.Context, sessionID string, cooldown time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimit[sessionID] = s.now().Add(cooldown)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) liveActivity(source string) *models.StoredActivity {
	env, ok := s.activity[source]
	if !ok || s.now().After(s.activityExp[source]) {
		return nil
	}
	return env
}

func (s *MemoryStore) liveSession() *models.Session {
	if s.session == nil || s.now().After(s.sessionExp) {
		return nil
	}
	return s.session
}

func cloneMeta(meta *models.StatusMeta) *models.StatusMeta {
	if meta == nil {
		return nil
	}
	copied := *meta
	return &copied
}
