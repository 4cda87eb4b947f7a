package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/odyssey-erp/stockcontrol/internal/platform/httpx"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

// Headers set by the upstream auth proxy.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorName = "X-Actor-Name"
	HeaderActorRole = "X-Actor-Role"
	HeaderCompanyID = "X-Company-ID"
)

// ActorFromHeaders resolves the caller identity forwarded by the auth layer
// and stores it in the request context.
func ActorFromHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := parseActor(r)
		if err != nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

// RequireRole rejects callers whose role is not listed. Administrators always pass.
func RequireRole(roles ...shared.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor missing")
				return
			}
			if actor.IsAdmin() {
				next.ServeHTTP(w, r)
				return
			}
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			httpx.RespondError(w, fmt.Errorf("role %s not permitted: %w", actor.Role, shared.ErrForbidden))
		})
	}
}

func parseActor(r *http.Request) (shared.Actor, error) {
	id, err := strconv.ParseInt(r.Header.Get(HeaderActorID), 10, 64)
	if err != nil || id <= 0 {
		return shared.Actor{}, fmt.Errorf("missing or invalid %s", HeaderActorID)
	}
	company, err := strconv.ParseInt(r.Header.Get(HeaderCompanyID), 10, 64)
	if err != nil || company <= 0 {
		return shared.Actor{}, fmt.Errorf("missing or invalid %s", HeaderCompanyID)
	}
	role, err := shared.ParseRole(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorRole))))
	if err != nil {
		return shared.Actor{}, err
	}
	return shared.Actor{
		ID:        id,
		Name:      strings.TrimSpace(r.Header.Get(HeaderActorName)),
		Role:      role,
		CompanyID: company,
	}, nil
}
