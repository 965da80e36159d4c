package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"prepflow-go/internal/logging"
)

const KeyPrefix = "prepflow:lock:"

// Locker serializes work per key. The returned func releases the lock and is
// safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Local is an in-process keyed mutex.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: map[string]*slot{}}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s := l.slots[key]
	if s == nil {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, s, true) })
	}, nil
}

func (l *Local) release(key string, s *slot, held bool) {
	if held {
		<-s.ch
	}
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}

// Held reports how many keys currently have holders or waiters.
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

// Redis is a SET NX PX lease for multi-node deployments. While held, the
// lease is renewed every ttl/3; release and renewal only touch the key when it
// still carries this holder's token.
type Redis struct {
	lease  leaseBackend
	prefix string
	ttl    time.Duration
	retry  time.Duration
	log    zerolog.Logger
}

const (
	DefaultLeaseTTL   = 5 * time.Minute
	DefaultRetryDelay = 50 * time.Millisecond
)

// leaseBackend is the token-checked key store behind Redis.
type leaseBackend interface {
	acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	release(ctx context.Context, key, token string) error
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	var lease leaseBackend
	if client != nil {
		lease = redisLease{client: client}
	}
	return newRedis(lease, ttl)
}

func newRedis(lease leaseBackend, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &Redis{
		lease:  lease,
		prefix: KeyPrefix,
		ttl:    ttl,
		retry:  DefaultRetryDelay,
		log:    logging.Component("lock"),
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	if r == nil || r.lease == nil {
		return nil, errors.New("lock: redis client is nil")
	}
	k := r.prefix + strings.TrimSpace(key)
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}

		ok, err := r.lease.acquire(ctx, k, token, r.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		t.Reset(r.retry)
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	go r.keepAlive(k, token, stopCh, doneCh)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopCh)
			<-doneCh
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := r.lease.release(ctx, k, token); err != nil {
				r.log.Warn().Str("key", k).Err(err).Msg("lease release failed")
			}
		})
	}, nil
}

// keepAlive extends the lease until stopCh closes. A lease that is gone or
// owned by another token is not retaken.
func (r *Redis) keepAlive(key, token string, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	every := r.ttl / 3
	if every <= 0 {
		every = r.ttl
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), every)
		ok, err := r.lease.renew(ctx, key, token, r.ttl)
		cancel()
		if err != nil {
			// Transient; the lease is still valid until ttl runs out.
			r.log.Warn().Str("key", key).Err(err).Msg("lease renewal failed")
			continue
		}
		if !ok {
			r.log.Error().Str("key", key).Msg("lease lost before unlock")
			return
		}
	}
}

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

type redisLease struct {
	client redis.UniversalClient
}

func (l redisLease) acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, token, ttl).Result()
}

func (l redisLease) renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, l.client, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l redisLease) release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
}

func newToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
