package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bazaarhq/bazaar-backend/pkg/auth"
	"github.com/bazaarhq/bazaar-backend/pkg/config"
	"github.com/bazaarhq/bazaar-backend/pkg/enums"
)

var authCfg = config.JWTConfig{Secret: "middleware-secret", Issuer: "bazaar-test", ExpirationMinutes: 60}

func bearer(t *testing.T, cfg config.JWTConfig, issuedAt time.Time, userID uuid.UUID, role enums.Role) string {
	t.Helper()
	token, err := auth.MintAccessToken(cfg, issuedAt, auth.AccessTokenPayload{UserID: userID, Role: role})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func TestAuthRejectsBadCredentials(t *testing.T) {
	user := uuid.New()
	otherIssuer := authCfg
	otherIssuer.Issuer = "someone-else"

	tests := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic dXNlcjpwYXNz",
		"garbage token":  "Bearer not-a-jwt",
		"expired token":  bearer(t, authCfg, time.Now().Add(-3*time.Hour), user, enums.RoleBuyer),
		"foreign issuer": bearer(t, otherIssuer, time.Now(), user, enums.RoleBuyer),
		"blank bearer":   "Bearer   ",
	}
	handler := Auth(authCfg, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401 got %d", rec.Code)
			}
			if !strings.HasPrefix(rec.Header().Get("WWW-Authenticate"), "Bearer") {
				t.Fatalf("missing challenge header")
			}
		})
	}
}

func TestAuthSeedsCallerIdentity(t *testing.T) {
	user := uuid.New()
	var gotUser uuid.UUID
	var gotRole enums.Role
	handler := Auth(authCfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserUUIDFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", bearer(t, authCfg, time.Now(), user, enums.RoleSeller))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if gotUser != user || gotRole != enums.RoleSeller {
		t.Fatalf("unexpected identity %s/%s", gotUser, gotRole)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(nil, enums.RoleBuyer, enums.RoleAdmin)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	for role, want := range map[enums.Role]int{
		enums.RoleBuyer:  http.StatusOK,
		enums.RoleAdmin:  http.StatusOK,
		enums.RoleSeller: http.StatusForbidden,
		"":               http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithRole(req.Context(), role))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("role %q: expected %d got %d", role, want, rec.Code)
		}
	}
}

func TestUserUUIDFromContextRejectsMalformedIDs(t *testing.T) {
	ctx := WithUserID(httptest.NewRequest(http.MethodGet, "/", nil).Context(), "not-a-uuid")
	if id, ok := UserUUIDFromContext(ctx); ok || id != uuid.Nil {
		t.Fatalf("expected malformed id to be rejected, got %s", id)
	}
}
