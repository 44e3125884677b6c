// Package lease hands out short-lived named locks so that only one worker
// process runs a given job at a time.
package lease

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned by Acquire when another holder owns the lease.
var ErrHeld = errors.New("lease held by another worker")

// Lease is an acquired lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
}

type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error)
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// releaseScript deletes the key only if it still carries our token, so an
// expired lease never releases its successor.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type RedisLocker struct {
	client redisClient
	prefix string
}

func NewRedisLocker(client redisClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "medicare:lease:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

func token() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Acquire takes the named lease with SET NX PX. The lease expires on its own
// after ttl if the holder dies.
func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	tok, err := token()
	if err != nil {
		return nil, fmt.Errorf("lease token: %w", err)
	}
	key := l.prefix + name
	ok, err := l.client.SetNX(ctx, key, tok, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &redisLease{client: l.client, key: key, token: tok}, nil
}

type redisLease struct {
	client redisClient
	key    string
	token  string
	once   sync.Once
	err    error
}

func (r *redisLease) Release(ctx context.Context) error {
	r.once.Do(func() {
		if err := r.client.Eval(ctx, releaseScript, []string{r.key}, r.token).Err(); err != nil {
			r.err = fmt.Errorf("release lease %s: %w", r.key, err)
		}
	})
	return r.err
}

// LocalLocker is an in-process Locker, used when no Redis is configured and
// in tests.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), clock: time.Now}
}

func (l *LocalLocker) Acquire(_ context.Context, name string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if until, ok := l.held[name]; ok && now.Before(until) {
		return nil, ErrHeld
	}
	until := now.Add(ttl)
	l.held[name] = until
	return &localLease{locker: l, name: name, until: until}, nil
}

type localLease struct {
	locker *LocalLocker
	name   string
	until  time.Time
}

func (r *localLease) Release(context.Context) error {
	r.locker.mu.Lock()
	defer r.locker.mu.Unlock()
	if r.locker.held[r.name].Equal(r.until) {
		delete(r.locker.held, r.name)
	}
	return nil
}
