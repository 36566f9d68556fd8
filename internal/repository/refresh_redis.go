package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"studyrag/internal/model"
)

// Keys live a day past token expiry so an expired token can still be looked
// up and reported as expired before Redis garbage-collects it.
const expiryGrace = 24 * time.Hour

// RedisRefreshTokenStore keeps refresh tokens as per-value keys plus a
// per-subject set for revoke-all. Consuming a token is a single GETDEL, so
// two concurrent rotations of one value cannot both succeed.
type RedisRefreshTokenStore struct {
	client *redisv9.Client
}

func NewRedisRefreshTokenStore(client *redisv9.Client) *RedisRefreshTokenStore {
	return &RedisRefreshTokenStore{client: client}
}

func (s *RedisRefreshTokenStore) Save(ctx context.Context, token *model.RefreshToken) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal refresh token failed: %w", err)
	}
	ttl := time.Until(token.ExpiresAt) + expiryGrace

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.tokenKey(token.Token), payload, ttl)
	pipe.SAdd(ctx, s.subjectKey(token.UserID), token.Token)
	pipe.Expire(ctx, s.subjectKey(token.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save refresh token failed: %w", err)
	}
	return nil
}

func (s *RedisRefreshTokenStore) Consume(ctx context.Context, value string) (*model.RefreshToken, error) {
	raw, err := s.client.GetDel(ctx, s.tokenKey(value)).Result()
	if err == redisv9.Nil {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis consume refresh token failed: %w", err)
	}

	var token model.RefreshToken
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return nil, fmt.Errorf("unmarshal refresh token failed: %w", err)
	}
	_ = s.client.SRem(ctx, s.subjectKey(token.UserID), value).Err()
	return &token, nil
}

func (s *RedisRefreshTokenStore) Revoke(ctx context.Context, value string) error {
	raw, err := s.client.GetDel(ctx, s.tokenKey(value)).Result()
	if err == redisv9.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis revoke refresh token failed: %w", err)
	}

	var token model.RefreshToken
	if err := json.Unmarshal([]byte(raw), &token); err == nil {
		_ = s.client.SRem(ctx, s.subjectKey(token.UserID), value).Err()
	}
	return nil
}

func (s *RedisRefreshTokenStore) RevokeAll(ctx context.Context, userID string) error {
	values, err := s.client.SMembers(ctx, s.subjectKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("redis list subject tokens failed: %w", err)
	}

	keys := make([]string, 0, len(values)+1)
	for _, v := range values {
		keys = append(keys, s.tokenKey(v))
	}
	keys = append(keys, s.subjectKey(userID))
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis revoke all failed: %w", err)
	}
	return nil
}

func (s *RedisRefreshTokenStore) tokenKey(value string) string {
	return "auth:refresh:" + value
}

func (s *RedisRefreshTokenStore) subjectKey(userID string) string {
	return "auth:refresh:subject:" + userID
}
