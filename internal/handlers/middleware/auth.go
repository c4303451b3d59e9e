package middleware

import (
	"net/http"
	"strings"

	"github.com/nkiryanov/pointledger/internal/handlers/operatorctx"
	"github.com/nkiryanov/pointledger/internal/handlers/render"
)

const bearerPrefix = "Bearer "

type tokenParser interface {
	// Parse token and return its subject
	Parse(token string) (string, error)
}

// OperatorAuth requires bearer token issued for operators
func OperatorAuth(tp tokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerPrefix) {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			subject, err := tp.Parse(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
			if err != nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := operatorctx.New(r.Context(), subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
