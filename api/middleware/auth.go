package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/paysaga-backend/api/responses"
	pkgAuth "github.com/angelmondragon/paysaga-backend/pkg/auth"
	"github.com/angelmondragon/paysaga-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/paysaga-backend/pkg/errors"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
)

// Auth requires an operator bearer token and stores its claims on the
// request context.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			claims, err := pkgAuth.ParseOperatorToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithOperator(r.Context(), Operator{Subject: claims.Subject, Role: claims.Role, TokenID: claims.ID})
			if logg != nil {
				ctx = logg.WithOperator(ctx, claims.Subject)
				ctx = logg.WithFields(ctx, map[string]any{"actor_role": claims.Role, "token_id": claims.ID})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken accepts only the Bearer scheme, case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
