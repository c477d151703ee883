package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/bazaarhq/bazaar-backend/pkg/env"
	"github.com/bazaarhq/bazaar-backend/pkg/logger"
	"github.com/bazaarhq/bazaar-backend/pkg/redis"
)

const (
	lockScope          = "settlement"
	defaultLockTTL     = 2 * time.Minute
	lockReleaseTimeout = 2 * time.Second
)

// ErrLocked means another process is settling the same order right now.
var ErrLocked = errors.New("settlement already in progress for order")

// Locker serializes settlement work per order across processes.
type Locker interface {
	Acquire(ctx context.Context, orderID uuid.UUID) (release func(), err error)
}

// RedisLocker holds a SET NX lock whose value is a per-acquire owner token,
// so an expired holder cannot release a lock someone else now owns.
type RedisLocker struct {
	store redis.LockStore
	ttl   time.Duration
	logg  *logger.Logger
}

func NewRedisLocker(store redis.LockStore, ttl time.Duration, logg *logger.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &RedisLocker{store: store, ttl: ttl, logg: logg}
}

func (l *RedisLocker) Acquire(ctx context.Context, orderID uuid.UUID) (func(), error) {
	if l == nil || l.store == nil {
		return nil, redis.ErrNotInitialized
	}
	key := l.store.LockKey(lockScope, orderID.String())
	owner := env.Instance() + ":" + uuid.NewString()

	ok, err := l.store.SetNX(ctx, key, owner, l.ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLocked
	}

	return func() {
		// The caller's context may already be cancelled.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
		defer cancel()
		released, err := l.store.ReleaseIfOwner(releaseCtx, key, owner)
		if err != nil {
			l.logg.Error(l.logg.WithOrderID(releaseCtx, orderID.String()), "settlement lock release failed", err)
			return
		}
		if !released {
			l.logg.Warn(l.logg.WithOrderID(releaseCtx, orderID.String()), "settlement lock expired before release")
		}
	}, nil
}
