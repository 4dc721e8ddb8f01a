package httpapi

import "net/http"

// authStatus reports whether admin tokens are configured and whether
// the calling request presents a valid one, per spec.md §6 GET
// /auth-status.
func (h *handlers) authStatus(w http.ResponseWriter, r *http.Request) {
	header := h.cfg.AdminHeader
	if header == "" {
		header = "X-Admin-Token"
	}
	required := len(h.cfg.AdminTokens) > 0

	authenticated := !required
	if required {
		presented := r.Header.Get(header)
		for _, t := range h.cfg.AdminTokens {
			if presented == t {
				authenticated = true
				break
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled":          required,
		"tokensConfigured": len(h.cfg.AdminTokens),
		"tokensRequired":   required,
		"authenticated":    authenticated,
	})
}
