package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"caseline.org/internal/auth"
	"caseline.org/internal/notify"
)

func (a *API) handleNotificationsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listNotifications(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) handleNotificationResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/notifications/")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	id := segments[0]

	switch {
	case len(segments) == 1 && r.Method == http.MethodGet:
		a.getNotification(w, r, id)
	case len(segments) == 2 && segments[1] == "ack" && r.Method == http.MethodPost:
		a.acknowledgeNotification(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	}
}

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request) {
	var f notify.ListFilter
	if raw := r.URL.Query().Get("kind"); raw != "" {
		kind := notify.ParseKind(raw)
		if kind == notify.KindUnknown {
			writeError(w, r, http.StatusBadRequest, "validation", "unknown kind")
			return
		}
		f.Kind = &kind
	}
	f.CaseID = strings.TrimSpace(r.URL.Query().Get("case_id"))
	f.Unacked = r.URL.Query().Get("unacked") == "true"
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 1000 {
			writeError(w, r, http.StatusBadRequest, "validation", "limit must be between 1 and 1000")
			return
		}
		f.MaxResults = limit
	}

	items, err := a.notifications.List(r.Context(), f)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) getNotification(w http.ResponseWriter, r *http.Request, id string) {
	n, err := a.notifications.Get(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (a *API) acknowledgeNotification(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requirePermission(r.Context(), auth.PermNotificationAck); err != nil {
		handleDomainError(w, r, err)
		return
	}
	n, err := a.notifications.Acknowledge(r.Context(), id, auth.ActorFromContext(r.Context()))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}
