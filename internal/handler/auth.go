package handler

import (
	"net/http"
	"strings"

	"github.com/xenking/ghostmarket/internal/domain/auth"
)

// authenticated requires a valid bearer token and stores the principal in
// the request context.
func (h *Handler) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="ghostmarket"`)
			writeError(w, http.StatusUnauthorized, "bearer token required")
			return
		}
		p, err := h.verifier.Verify(raw)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="ghostmarket", error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// admin is authenticated plus the ADMIN role.
func (h *Handler) admin(next http.HandlerFunc) http.Handler {
	return h.authenticated(func(w http.ResponseWriter, r *http.Request) {
		if !auth.FromContext(r.Context()).IsAdmin() {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
