package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-i2p/logger"
	"github.com/julienschmidt/httprouter"
)

const bearerPrefix = "Bearer "

// tokenMatches compares in constant time. An empty configured token
// disables authentication.
func tokenMatches(configured, presented string) bool {
	if configured == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(h[len(bearerPrefix):])
}

// authorize wraps h with the bearer check. allowQuery additionally accepts
// ?token= for clients that cannot set headers.
func (s *Server) authorize(h httprouter.Handle, allowQuery bool) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		presented := bearerToken(r)
		if presented == "" && allowQuery {
			presented = r.URL.Query().Get("token")
		}
		if !tokenMatches(s.cfg.Token, presented) {
			log.WithFields(logger.Fields{
				"at":     "(Server).authorize",
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
				"reason": "invalid_token",
			}).Warn("rejected unauthenticated request")
			w.Header().Set("WWW-Authenticate", `Bearer realm="linkd"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h(w, r, ps)
	}
}
