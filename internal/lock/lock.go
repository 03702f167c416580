package redlock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "orchlock:"

// Lock is a leased mutual exclusion held by one holder. At most one
// non-expired lock exists per key; the lease expires on its own so a crashed
// holder never blocks the pipeline permanently.
type Lock struct {
	client redis.UniversalClient
	key    string
	holder string // only the holder can release or extend the lease
}

// Service hands out leased locks backed by Redis.
type Service struct {
	client redis.UniversalClient
}

func NewService(client redis.UniversalClient) *Service {
	return &Service{client: client}
}

// TryAcquire atomically creates the lock if it is absent or expired. It
// returns (nil, nil) when another holder currently owns the lease; callers
// treat that as "someone else is doing this work".
func (s *Service) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (*Lock, error) {
	success, err := s.client.SetNX(ctx, keyPrefix+key, holder, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !success {
		return nil, nil
	}
	return &Lock{client: s.client, key: keyPrefix + key, holder: holder}, nil
}

// ForceRelease deletes a lock regardless of holder. Operator incident
// recovery only; callers must log actor and reason.
func (s *Service) ForceRelease(ctx context.Context, key string) error {
	deleted, err := s.client.Del(ctx, keyPrefix+key).Result()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return fmt.Errorf("no lock held for key %s", key)
	}
	return nil
}

// Holder returns the current holder of a key, or empty when unheld.
func (s *Service) Holder(ctx context.Context, key string) (string, error) {
	holder, err := s.client.Get(ctx, keyPrefix+key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return holder, err
}

// Release deletes the lock only if this holder still owns it. A lease that
// already expired and was claimed by someone else is left alone.
func (l *Lock) Release(ctx context.Context) error {
	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	result, err := l.client.Eval(ctx, script, []string{l.key}, l.holder).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("release failed, either lock expired or %s is not the holder for key %s", l.holder, l.key)
	}
	return nil
}

// Extend renews the lease. Long-running holders must call this before the
// TTL elapses or risk a second holder claiming the key.
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
	result, err := l.client.Eval(ctx, script, []string{l.key}, l.holder, fmt.Sprintf("%d", ttl.Milliseconds())).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("lease extension failed for key %s, either lock expired or %s is not the holder", l.key, l.holder)
	}
	return nil
}
