package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/clinicbilling/pkg/keylock"
)

// releaseScript deletes the lock only if it still holds our token, so an
// expired holder cannot release a lock taken over by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const unlockTimeout = 5 * time.Second

// Locker is a keylock.Locker shared by every instance connected to the same
// Redis. Locks expire after the TTL so a crashed holder cannot block a key
// forever; keep critical sections well below it.
type Locker struct {
	client    redis.UniversalClient
	prefix    string
	ttl       time.Duration
	retryWait time.Duration
	logger    *slog.Logger
}

var _ keylock.Locker = (*Locker)(nil)

// LockerOption configures a Locker.
type LockerOption func(*Locker)

// WithLockerLogger sets the logger used for release failures.
func WithLockerLogger(l *slog.Logger) LockerOption {
	return func(lk *Locker) {
		if l != nil {
			lk.logger = l
		}
	}
}

// NewLocker creates a distributed locker. Zero config values fall back to
// a 30s TTL and a 25ms retry wait.
func NewLocker(client redis.UniversalClient, cfg Config, opts ...LockerOption) *Locker {
	l := &Locker{
		client:    client,
		prefix:    cfg.LockPrefix,
		ttl:       cfg.LockTTL,
		retryWait: cfg.LockRetryWait,
		logger:    slog.New(slog.DiscardHandler),
	}
	if l.ttl <= 0 {
		l.ttl = 30 * time.Second
	}
	if l.retryWait <= 0 {
		l.retryWait = 25 * time.Millisecond
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock polls SET NX PX until the key is free or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (keylock.Unlock, error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, errors.Join(keylock.ErrLockNotAcquired, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(keylock.ErrLockNotAcquired, ctx.Err())
		case <-time.After(l.retryWait):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
			defer cancel()
			if err := releaseScript.Run(rctx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.logger.WarnContext(rctx, "failed to release redis lock",
					slog.String("key", key),
					slog.String("error", err.Error()))
			}
		})
	}, nil
}
