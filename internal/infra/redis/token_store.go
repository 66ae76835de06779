package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenStore keeps the live instructor token per exam in Redis so a restarted
// process (or a second connection) sees the same session within the TTL. When
// the key is gone anyway, the authority's recovery rule takes over.
type TokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewTokenStore(client *redis.Client, ttl time.Duration) *TokenStore {
	return &TokenStore{client: client, ttl: ttl}
}

func (s *TokenStore) Put(ctx context.Context, examID int64, token string) error {
	return s.client.Set(ctx, s.key(examID), token, s.ttl).Err()
}

// Get returns the stored token and slides its expiry: every successful
// validation keeps an active session alive, so the TTL only drops sessions
// that stayed idle for the whole window.
func (s *TokenStore) Get(ctx context.Context, examID int64) (string, bool, error) {
	token, err := s.client.Get(ctx, s.key(examID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if err := s.client.Expire(ctx, s.key(examID), s.ttl).Err(); err != nil {
		return "", false, err
	}
	return token, true, nil
}

func (s *TokenStore) Delete(ctx context.Context, examID int64) error {
	return s.client.Del(ctx, s.key(examID)).Err()
}

func (s *TokenStore) key(examID int64) string {
	return "exam:instructor:" + strconv.FormatInt(examID, 10)
}
