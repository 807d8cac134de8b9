package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pitchside/auction-engine/internal/fault"
)

// Auth holds the configured operator credentials. The super-admin token
// may drive any tournament; an operator token is scoped to exactly one.
type Auth struct {
	AdminToken     string
	OperatorTokens map[string]string // token -> tournament ID
}

type caller struct {
	admin        bool
	tournamentID string
}

type callerKey struct{}

// Require authenticates the Bearer token and scopes it to the tournament
// in the URL. Mounted on the command routes; snapshot reads and the
// websocket stream are viewer-facing and stay open.
func (a *Auth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeFault(w, &fault.Permission{Reason: "missing bearer token"})
			return
		}

		c := caller{}
		switch {
		case a.AdminToken != "" && token == a.AdminToken:
			c.admin = true
		default:
			tid, ok := a.OperatorTokens[token]
			if !ok {
				writeFault(w, &fault.Permission{Reason: "unrecognized token"})
				return
			}
			c.tournamentID = tid
		}

		if !c.admin {
			if tid := chi.URLParam(r, "tournamentID"); tid != c.tournamentID {
				writeFault(w, &fault.Permission{Reason: "token is not valid for this tournament"})
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, c)))
	})
}

// requireAdmin gates a handler to the super-admin token.
func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	c, _ := r.Context().Value(callerKey{}).(caller)
	if !c.admin {
		writeFault(w, &fault.Permission{Reason: "super-admin token required"})
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
