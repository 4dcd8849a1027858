package infra

import (
	"context"
	"errors"
	"strings"
	"time"

	"login-lockout-gateway/middleware/lockout/domain"

	"github.com/redis/go-redis/v9"
)

// RedisLockStore guarda cada registro de bloqueio como um hash do Redis.
// Compartilhado por todas as instâncias que apontam para o mesmo Redis.
//
// Timeouts vêm do ctx e das opções do client; erros são devolvidos crus.
type RedisLockStore struct {
	rdb    redis.Cmdable
	prefix string
}

type RedisLockOption func(*RedisLockStore)

// WithKeyPrefix adiciona um namespace antes da chave ("prefix:loginLock:...").
func WithKeyPrefix(prefix string) RedisLockOption {
	return func(s *RedisLockStore) { s.prefix = strings.Trim(prefix, ":") }
}

func NewRedisLockStore(rdb redis.Cmdable, opts ...RedisLockOption) *RedisLockStore {
	s := &RedisLockStore{rdb: rdb}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisLockStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisLockStore) ReadFields(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]string{}
	}
	return fields, nil
}

func (s *RedisLockStore) WriteFields(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return s.rdb.HSet(ctx, s.key(key), args...).Err()
}

func (s *RedisLockStore) SetExpiry(ctx context.Context, key string, seconds int) error {
	return s.rdb.Expire(ctx, s.key(key), time.Duration(seconds)*time.Second).Err()
}

// IncrementField implementa domain.FieldIncrementer via HINCRBY.
func (s *RedisLockStore) IncrementField(ctx context.Context, key, field string, delta int64) (int64, error) {
	n, err := s.rdb.HIncrBy(ctx, s.key(key), field, delta).Result()
	if err != nil {
		var rerr redis.Error
		if errors.As(err, &rerr) && strings.Contains(rerr.Error(), "not an integer") {
			return 0, domain.ErrMalformedField
		}
		return 0, err
	}
	return n, nil
}

// TimeToLive implementa domain.ExpiryReader. O Redis responde -2 (sem chave)
// e -1 (sem TTL); ambos viram 0.
func (s *RedisLockStore) TimeToLive(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.rdb.TTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}
