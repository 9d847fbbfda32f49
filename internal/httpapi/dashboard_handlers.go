package httpapi

import (
	"net/http"

	"caseline.org/internal/auth"
)

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if err := a.requirePermission(r.Context(), auth.PermDashboardView); err != nil {
		handleDomainError(w, r, err)
		return
	}

	sum, err := a.dashboard.Summary(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
