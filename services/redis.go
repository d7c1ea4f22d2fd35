package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"presenced/models"
	"presenced/utils"
)

const (
	activityKeyPrefix  = "presence:activity:"
	statusKeyPrefix    = "presence:status:"
	heartbeatKeyPrefix = "presence:heartbeat:"
	rateLimitKeyPrefix = "presence:ratelimit:"
	sessionKey         = "presence:session"
)

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(redisURL string, db int) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opt.DB = db

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisStore implements Store on go-redis. Write paths report errors to the
// caller; read paths degrade to "no data" on transient errors.
type RedisStore struct {
	rdb         *redis.Client
	logger      *utils.Logger
	activityTTL time.Duration
	statusTTL   time.Duration
	now         func() time.Time
}

func NewRedisStore(rdb *redis.Client, logger *utils.Logger, activityTTL, statusTTL time.Duration) *RedisStore {
	return &RedisStore{
		rdb:         rdb,
		logger:      logger,
		activityTTL: activityTTL,
		statusTTL:   statusTTL,
		now:         time.Now,
	}
}

func (s *RedisStore) SetActivity(ctx context.Context, source string, payload json.RawMessage) (*models.PresenceRecord, error) {
	now := s.now()

	// Read-then-write is atomic enough here: each source has a single writer
	// path, so the status read cannot race another mutation of the same key.
	meta, err := s.statusMeta(ctx, source)
	if err != nil {
		return nil, err
	}
	meta = applyActivity(meta, now)

	env := &models.StoredActivity{Source: source, Payload: payload, ReceivedAt: now}
	envData, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal activity envelope: %w", err)
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status metadata: %w", err)
	}

	// Use pipeline for atomic operations
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, activityKeyPrefix+source, envData, s.activityTTL)
	pipe.Set(ctx, statusKeyPrefix+source, metaData, s.statusTTL)
	pipe.Set(ctx, heartbeatKeyPrefix+source, now.Format(time.RFC3339Nano), s.activityTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to store activity for %s: %w", source, err)
	}

	return buildRecord(source, env, meta), nil
}

func (s *RedisStore) Activity(ctx context.Context, source string) (*models.PresenceRecord, error) {
	env := s.storedActivity(ctx, source)
	meta, err := s.statusMeta(ctx, source)
	if err != nil {
		// Read path degrades rather than failing the caller.
		s.logger.Warn("status read degraded", "source", source, "error", err)
		meta = nil
	}

	if meta == nil && source == models.SourceVSCode {
		if sess, _ := s.Session(ctx); sess != nil {
			return sessionRecord(source, env, sess), nil
		}
	}
	if env == nil && meta == nil {
		return nil, nil
	}
	return buildRecord(source, env, meta), nil
}

func (s *RedisStore) LastStored(ctx context.Context, source string) (*models.StoredActivity, error) {
	return s.storedActivity(ctx, source), nil
}

func (s *RedisStore) MarkOffline(ctx context.Context, source string) (*models.PresenceRecord, bool, error) {
	meta, err := s.statusMeta(ctx, source)
	if err != nil {
		return nil, false, err
	}
	meta, changed := applyOffline(meta, s.now())
	env := s.storedActivity(ctx, source)
	if !changed {
		return buildRecord(source, env, meta), false, nil
	}

	metaData, err := json.Marshal(meta)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal status metadata: %w", err)
	}
	if err := s.rdb.Set(ctx, statusKeyPrefix+source, metaData, s.statusTTL).Err(); err != nil {
		return nil, false, fmt.Errorf("failed to mark %s offline: %w", source, err)
	}
	return buildRecord(source, env, meta), true, nil
}

func (s *RedisStore) TouchHeartbeat(ctx context.Context, source string) error {
	now := s.now()
	if err := s.rdb.Set(ctx, heartbeatKeyPrefix+source, now.Format(time.RFC3339Nano), s.activityTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh heartbeat for %s: %w", source, err)
	}
	return nil
}

func (s *RedisStore) LastSeen(ctx context.Context, source string) (time.Time, bool, error) {
	val, err := s.rdb.Get(ctx, heartbeatKeyPrefix+source).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read heartbeat for %s: %w", source, err)
	}
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt heartbeat mark for %s: %w", source, err)
	}
	return t, true, nil
}

func (s *RedisStore) Session(ctx context.Context) (*models.Session, error) {
	data, err := s.rdb.Get(ctx, sessionKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		s.logger.Warn("session read degraded", "error", err)
		return nil, nil
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		s.logger.Warn("corrupt session record dropped", "error", err)
		return nil, nil
	}
	return &sess, nil
}

func (s *RedisStore) SaveSession(ctx context.Context, sess *models.Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *RedisStore) RateLimitRemaining(ctx context.Context, sessionID string) (time.Duration, bool, error) {
	ttl, err := s.rdb.PTTL(ctx, rateLimitKeyPrefix+sessionID).Result()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read rate-limit marker: %w", err)
	}
	if ttl <= 0 {
		// -2 key missing, -1 no expiry; either way no live cooldown.
		return 0, false, nil
	}
	return ttl, true, nil
}

func (s *RedisStore) MarkRateLimit(ctx context.Context, sessionID string, cooldown time.Duration) error {
	if err := s.rdb.Set(ctx, rateLimitKeyPrefix+sessionID, "1", cooldown).Err(); err != nil {
		return fmt.Errorf("failed to set rate-limit marker: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) statusMeta(ctx context.Context, source string) (*models.StatusMeta, error) {
	data, err := s.rdb.Get(ctx, statusKeyPrefix+source).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status for %s: %w", source, err)
	}
	var meta models.StatusMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("corrupt status metadata for %s: %w", source, err)
	}
	return &meta, nil
}

func (s *RedisStore) storedActivity(ctx context.Context, source string) *models.StoredActivity {
	data, err := s.rdb.Get(ctx, activityKeyPrefix+source).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		s.logger.Warn("activity read degraded", "source", source, "error", err)
		return nil
	}
	var env models.StoredActivity
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn("corrupt activity envelope dropped", "source", source, "error", err)
		return nil
	}
	return &env
}
