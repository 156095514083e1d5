package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/telhawk-systems/causeway/internal/httputil"
)

// RequireAuth validates HS256 bearer tokens against the shared secret. The
// engine has no user model; any token signed with the secret and not expired
// is accepted.
func RequireAuth(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) {
				httputil.WriteError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			token, err := jwt.Parse(strings.TrimPrefix(auth, prefix),
				func(t *jwt.Token) (interface{}, error) {
					if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
					}
					return key, nil
				})
			if err != nil || !token.Valid {
				httputil.WriteError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
