package handler

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"
)

const basicAuthRealm = "binance-bridge"

// BasicAuth rejects requests whose credentials do not match user and pass.
func BasicAuth(user, pass string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || !secureEqual(u, user) || !secureEqual(p, pass) {
				w.Header().Set("WWW-Authenticate", `Basic realm="`+basicAuthRealm+`"`)
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// secureEqual hashes both sides so the comparison time does not depend on length.
func secureEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request")
}
