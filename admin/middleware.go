package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/pushrelay/pushrelay/cfg"
)

// AuthMiddleware validates token authentication for admin endpoints
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No token configured means an open admin surface
		token := cfg.Config.Admin.AuthToken
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		// Check X-Pushrelay-Token header
		provided := r.Header.Get("X-Pushrelay-Token")
		if provided == "" {
			// Check Authorization: Bearer header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeErrorResponse(w, http.StatusUnauthorized, "missing authentication header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeErrorResponse(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}
			provided = parts[1]
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			writeErrorResponse(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
