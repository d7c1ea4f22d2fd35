package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"presenced/utils"
)

// APIKeyAuth guards producer endpoints with the deployment's shared secret.
// The credential may be the secret itself (Authorization bearer or X-API-Key
// header) or a short-lived HS256 token signed with it, for producers that
// prefer not to put the raw secret on every request.
func APIKeyAuth(secret string, logger *utils.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractCredential(r)
		if token == "" {
			http.Error(w, "Missing credentials", http.StatusUnauthorized)
			return
		}

		if token == secret {
			next.ServeHTTP(w, r)
			return
		}

		parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !parsed.Valid {
			logger.Warn("rejected request with invalid credentials", "path", r.URL.Path, "remote", r.RemoteAddr)
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractCredential(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if strings.HasPrefix(bearer, "Bearer ") {
		return strings.TrimPrefix(bearer, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	// Browser EventSource and WebSocket clients cannot set headers.
	return r.URL.Query().Get("token")
}
