package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
)

type ctxKey string

const ctxKeyActor ctxKey = "audit-sync.actor"

func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, ctxKeyActor, actor)
}

func FromContext(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(ctxKeyActor).(models.Actor)
	return actor, ok
}

// Middleware rejects requests without a valid bearer token and stores the
// actor in the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if len(authz) < 7 || !strings.EqualFold(authz[:7], "bearer ") {
			deny(w, http.StatusUnauthorized, "unauthenticated", "a bearer token is required")
			return
		}
		actor, err := v.Verify(strings.TrimSpace(authz[7:]))
		if err != nil {
			deny(w, http.StatusUnauthorized, "unauthenticated", "the bearer token is not valid")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// RequireAnyRole lets the request through if the actor holds one of roles.
// It runs before any payload parsing.
func RequireAnyRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := FromContext(r.Context())
			if !ok {
				deny(w, http.StatusUnauthorized, "unauthenticated", "a bearer token is required")
				return
			}
			for _, role := range roles {
				if actor.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			deny(w, http.StatusForbidden, "forbidden", "insufficient permissions")
		})
	}
}

func deny(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "error",
		"code":    code,
		"message": message,
	})
}
