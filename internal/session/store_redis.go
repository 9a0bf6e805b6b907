package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"TubeDigest/internal/domain"
)

const (
	sessionKeyPrefix = "tubedigest:session:"
	busyKeyPrefix    = "tubedigest:busy:"

	// busyTTL bounds a stuck in-flight slot if the process dies before
	// releasing it.
	busyTTL = 2 * time.Hour
)

// RedisStore shares sessions and the busy guard across bot instances.
type RedisStore struct {
	client  *redis.Client
	idleTTL time.Duration
}

func NewRedisStore(client *redis.Client, idleTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, idleTTL: idleTTL}
}

func (s *RedisStore) Get(ctx context.Context, userID string) (*domain.UserSession, error) {
	raw, err := s.client.Get(ctx, sessionKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var sess domain.UserSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Put(ctx context.Context, sess *domain.UserSession) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+sess.UserID, raw, s.idleTTL).Err(); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (s *RedisStore) TryAcquire(ctx context.Context, userID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, busyKeyPrefix+userID, "1", busyTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire busy slot: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, busyKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("release busy slot: %w", err)
	}
	return nil
}

func (s *RedisStore) Snapshot(ctx context.Context) ([]domain.UserSession, error) {
	var (
		out    []domain.UserSession
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, sessionKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan sessions: %w", err)
		}
		for _, key := range keys {
			raw, err := s.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("get session %s: %w", key, err)
			}
			var sess domain.UserSession
			if err := json.Unmarshal(raw, &sess); err != nil {
				continue
			}
			out = append(out, sess)
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}
