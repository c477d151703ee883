package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/bazaarhq/bazaar-backend/pkg/enums"
)

type contextKey int

const (
	userIDKey contextKey = iota
	roleKey
)

func fromContext[T any](ctx context.Context, key contextKey) (v T) {
	if ctx != nil {
		v, _ = ctx.Value(key).(T)
	}
	return v
}

func intoContext(ctx context.Context, key contextKey, v any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, v)
}

// UserIDFromContext returns the authenticated subject, or "" for anonymous
// requests.
func UserIDFromContext(ctx context.Context) string {
	return fromContext[string](ctx, userIDKey)
}

// UserUUIDFromContext parses the authenticated user id.
func UserUUIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func RoleFromContext(ctx context.Context) enums.Role {
	return fromContext[enums.Role](ctx, roleKey)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return intoContext(ctx, userIDKey, userID)
}

func WithRole(ctx context.Context, role enums.Role) context.Context {
	return intoContext(ctx, roleKey, role)
}
