package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazaarhq/bazaar-backend/pkg/logger"
)

type fakeLockStore struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (s *fakeLockStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = value.(string)
	s.ttls[key] = ttl
	return true, nil
}

func (s *fakeLockStore) ReleaseIfOwner(_ context.Context, key, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values[key] != owner {
		return false, nil
	}
	delete(s.values, key)
	return true, nil
}

func (s *fakeLockStore) LockKey(scope, id string) string {
	return "lock:" + scope + ":" + id
}

func (s *fakeLockStore) expire(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	store := newFakeLockStore()
	locker := NewRedisLocker(store, 0, logger.Nop())
	orderID := uuid.New()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, defaultLockTTL, store.ttls["lock:settlement:"+orderID.String()])

	_, err = locker.Acquire(ctx, orderID)
	assert.ErrorIs(t, err, ErrLocked)

	other, err := locker.Acquire(ctx, uuid.New())
	require.NoError(t, err)
	other()

	release()
	again, err := locker.Acquire(ctx, orderID)
	require.NoError(t, err)
	again()
}

func TestRedisLockerReleaseKeepsNewOwnersLock(t *testing.T) {
	store := newFakeLockStore()
	locker := NewRedisLocker(store, time.Minute, logger.Nop())
	orderID := uuid.New()
	key := store.LockKey(lockScope, orderID.String())
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, orderID)
	require.NoError(t, err)

	store.expire(key)
	current, err := locker.Acquire(ctx, orderID)
	require.NoError(t, err)

	stale()
	_, err = locker.Acquire(ctx, orderID)
	assert.ErrorIs(t, err, ErrLocked)

	current()
	_, err = locker.Acquire(ctx, orderID)
	assert.NoError(t, err)
}

func TestRedisLockerReleaseSurvivesCancelledContext(t *testing.T) {
	store := newFakeLockStore()
	locker := NewRedisLocker(store, time.Minute, logger.Nop())
	orderID := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	release, err := locker.Acquire(ctx, orderID)
	require.NoError(t, err)
	cancel()
	release()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.values)
}
