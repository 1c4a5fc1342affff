package middleware

import (
	"net/http"

	"github.com/angelmondragon/paysaga-backend/api/responses"
	pkgerrors "github.com/angelmondragon/paysaga-backend/pkg/errors"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
)

// RequireRole admits requests whose authenticated role is one of roles.
// It must run after Auth.
func RequireRole(logg *logger.Logger, roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, _ := OperatorFrom(r.Context())
			role := op.Role
			if _, ok := allowed[role]; !ok {
				ctx := r.Context()
				if logg != nil {
					ctx = logg.WithFields(ctx, map[string]any{"actor_role": role, "path": r.URL.Path})
					logg.Warn(ctx, "operator route denied")
				}
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "operator role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
