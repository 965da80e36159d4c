package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

const RedisBackupSecretKey = "prepflow:secret:backup"

var ErrSecretUnavailable = errors.New("server backup secret is not configured")

// StaticSecret serves the server backup secret from process configuration
// (PREPFLOW_BACKUP_SECRET).
type StaticSecret struct {
	value string
}

func NewStaticSecret(value string) *StaticSecret {
	return &StaticSecret{value: value}
}

func (s *StaticSecret) ServerSecret(context.Context) ([]byte, error) {
	if s == nil || strings.TrimSpace(s.value) == "" {
		return nil, ErrSecretUnavailable
	}
	return []byte(s.value), nil
}

// RedisSecret reads the server backup secret from a shared Redis key so every
// node derives the same server-mode keys.
type RedisSecret struct {
	client *redis.Client
	key    string
}

func NewRedisSecret(client *redis.Client, key string) *RedisSecret {
	if strings.TrimSpace(key) == "" {
		key = RedisBackupSecretKey
	}
	return &RedisSecret{client: client, key: key}
}

func (s *RedisSecret) ServerSecret(ctx context.Context) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, ErrSecretUnavailable
	}
	v, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSecretUnavailable
	}
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, ErrSecretUnavailable
	}
	return v, nil
}
