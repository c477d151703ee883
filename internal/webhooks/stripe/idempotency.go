package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bazaarhq/bazaar-backend/pkg/redis"
)

const defaultEventTTL = 72 * time.Hour

var errEventIDRequired = errors.New("event id is required")

// IdempotencyGuard remembers processed Stripe event ids so redeliveries are
// acknowledged without being applied twice. Stripe retries for up to three
// days, which is the default memory.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
	now   func() time.Time
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, fmt.Errorf("ttl %s must be non-negative", ttl)
	case scope == "":
		return nil, errors.New("scope is required")
	case ttl == 0:
		ttl = defaultEventTTL
	}
	return &IdempotencyGuard{store: store, ttl: ttl, scope: scope, now: time.Now}, nil
}

func (g *IdempotencyGuard) key(eventID string) (string, error) {
	if eventID == "" {
		return "", errEventIDRequired
	}
	return g.store.IdempotencyKey(g.scope, eventID), nil
}

// CheckAndMark reports whether the event was already seen, marking it seen
// otherwise. The stored value is the first-seen timestamp.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventID string) (seen bool, err error) {
	key, err := g.key(eventID)
	if err != nil {
		return false, err
	}
	fresh, err := g.store.SetNX(ctx, key, g.now().UTC().Format(time.RFC3339), g.ttl)
	if err != nil {
		return false, fmt.Errorf("mark stripe event %s: %w", eventID, err)
	}
	return !fresh, nil
}

// Delete forgets the event so Stripe's next retry is processed again.
func (g *IdempotencyGuard) Delete(ctx context.Context, eventID string) error {
	key, err := g.key(eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}
