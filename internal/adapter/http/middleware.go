package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/inspectiq/internal/domain"
)

// ActorHeader carries the identity of the already-authenticated caller.
const ActorHeader = "X-Actor-ID"

type sessionKey struct{}

// Session is the caller's identity and permission snapshot for one request.
type Session struct {
	Actor       string
	Permissions domain.PermissionSet
}

func sessionFrom(ctx context.Context) Session {
	s, _ := ctx.Value(sessionKey{}).(Session)
	return s
}

// sessionMiddleware loads the caller's permission set once per request.
// Requests without an actor get an empty set, so only open screens and
// operations succeed.
func sessionMiddleware(api huma.API, store domain.PermissionStore) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		actor := strings.TrimSpace(ctx.Header(ActorHeader))
		session := Session{Actor: actor, Permissions: domain.NewPermissionSet()}

		if actor != "" {
			perms, err := store.PermissionsFor(ctx.Context(), actor)
			if err != nil {
				slog.ErrorContext(ctx.Context(), "loading permissions", "actor", actor, "error", err)
				_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "internal server error")
				return
			}
			session.Permissions = perms
		}

		next(huma.WithValue(ctx, sessionKey{}, session))
	}
}
