package access

import (
	"context"
	"net/http"
	"strings"

	"github.com/agenda-clinica/agenda/libs/auth"
	"github.com/agenda-clinica/agenda/libs/httpx"
)

type ctxKey int

const ctxKeyPrincipal ctxKey = iota

func PrincipalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal).(auth.Principal)
	return p, ok
}

func WithPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

// RequireRole admits requests carrying a valid bearer token for role.
// Missing, malformed, invalid or expired tokens get 401; a valid token for
// another role gets 403.
func RequireRole(signer *auth.Signer, role auth.Role) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				httpx.WriteError(w, http.StatusUnauthorized, "Token não enviado")
				return
			}

			parts := strings.Split(header, " ")
			if len(parts) != 2 {
				httpx.WriteError(w, http.StatusUnauthorized, "Token inválido")
				return
			}
			if !strings.EqualFold(parts[0], "Bearer") {
				httpx.WriteError(w, http.StatusUnauthorized, "Formato do token inválido")
				return
			}

			claims, err := signer.Verify(parts[1])
			if err != nil {
				httpx.WriteError(w, http.StatusUnauthorized, "Token inválido ou expirado")
				return
			}
			if claims.Role != role {
				httpx.WriteError(w, http.StatusForbidden, "Sem permissão")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), claims.Principal())))
		})
	}
}
