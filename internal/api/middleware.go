package api

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"github.com/cosmic-community/ssf-mailer-sub002/internal/pkg/httputil"
)

// requireCronSecret authorizes trigger requests with a shared-secret bearer
// token. An unconfigured secret means development mode: the request is
// allowed but loudly flagged, so a misconfigured deployment is visible in
// the logs instead of silently locked out.
func (s *Server) requireCronSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cronSecret == "" {
			log.Printf("[API] WARNING: CRON_SECRET not configured, allowing trigger request (development mode)")
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cronSecret)) != 1 {
			httputil.Unauthorized(w, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
