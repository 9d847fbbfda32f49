package httpapi

import (
	"net/http"
	"strings"
	"time"

	"caseline.org/internal/audit"
	"caseline.org/internal/auth"
)

type tokenRequest struct {
	User   string   `json:"user"`
	Tenant string   `json:"tenant"`
	Roles  []string `json:"roles"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const tokenTTL = 15 * time.Minute

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", err.Error())
		return
	}

	user := strings.TrimSpace(req.User)
	if user == "" {
		writeError(w, r, http.StatusBadRequest, "validation", "user is required")
		return
	}
	tenantKey := strings.TrimSpace(req.Tenant)
	if tenantKey == "" {
		writeError(w, r, http.StatusBadRequest, "validation", "tenant is required")
		return
	}
	roles := make([]string, 0, len(req.Roles))
	for _, role := range req.Roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		roles = append(roles, role)
	}
	if len(roles) == 0 {
		writeError(w, r, http.StatusBadRequest, "validation", "roles are required")
		return
	}

	token, err := auth.GenerateToken(user, tenantKey, roles, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"user":       user,
		"tenant":     tenantKey,
		"roles":      roles,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
