package httpapi

import (
	"net/http"
	"strings"

	"caseline.org/internal/audit"
	"caseline.org/internal/auth"
	"caseline.org/internal/casefile"
	"caseline.org/internal/obs"
	"caseline.org/internal/triage"
)

type submitTicketRequest struct {
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	Reporter     string `json:"reporter"`
	Channel      string `json:"channel"`
	Jurisdiction string `json:"jurisdiction"`
	VIP          bool   `json:"vip"`
}

type ticketStatusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

type convertResponse struct {
	Ticket           triage.Ticket `json:"ticket"`
	Case             casefile.Case `json:"case"`
	AlreadyConverted bool          `json:"already_converted"`
}

func (a *API) handleTicketsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.submitTicket(w, r)
	case http.MethodGet:
		a.listTickets(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleTicketResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/triage/tickets/")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	id := segments[0]

	switch {
	case len(segments) == 1 && r.Method == http.MethodGet:
		a.getTicket(w, r, id)
	case len(segments) == 2 && segments[1] == "status" && r.Method == http.MethodPost:
		a.updateTicketStatus(w, r, id)
	case len(segments) == 2 && segments[1] == "convert" && r.Method == http.MethodPost:
		a.convertTicket(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	}
}

func (a *API) submitTicket(w http.ResponseWriter, r *http.Request) {
	if err := a.requirePermission(r.Context(), auth.PermTriageWrite); err != nil {
		handleDomainError(w, r, err)
		return
	}
	var req submitTicketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", err.Error())
		return
	}

	t, err := a.tickets.Submit(r.Context(), triage.SubmitInput{
		Subject:      req.Subject,
		Body:         req.Body,
		Reporter:     req.Reporter,
		Channel:      req.Channel,
		Jurisdiction: req.Jurisdiction,
		VIP:          req.VIP,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "triage.ticket.submit", map[string]any{
		"ticket_id": t.TicketID,
	})

	w.Header().Set("Location", "/v1/triage/tickets/"+t.TicketID)
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) listTickets(w http.ResponseWriter, r *http.Request) {
	var f triage.Filter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := triage.ParseStatus(raw)
		if status == triage.StatusUnknown {
			writeError(w, r, http.StatusBadRequest, "validation", "unknown status")
			return
		}
		f.Status = &status
	}

	items, err := a.tickets.List(r.Context(), f)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) getTicket(w http.ResponseWriter, r *http.Request, id string) {
	t, err := a.tickets.Get(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) updateTicketStatus(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requirePermission(r.Context(), auth.PermTriageWrite); err != nil {
		handleDomainError(w, r, err)
		return
	}
	var req ticketStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", err.Error())
		return
	}

	t, err := a.tickets.UpdateStatus(r.Context(), id, triage.StatusUpdate{
		Status: triage.ParseStatus(req.Status),
		Notes:  req.Notes,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "triage.ticket.status", map[string]any{
		"ticket_id": t.TicketID,
		"status":    t.Status.String(),
	})
	writeJSON(w, http.StatusOK, t)
}

// convertTicket returns 201 with a Location header for the first conversion
// and 200 for replays, both carrying the same case.
func (a *API) convertTicket(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requirePermission(r.Context(), auth.PermTriageConvert); err != nil {
		handleDomainError(w, r, err)
		return
	}

	res, err := a.tickets.Convert(r.Context(), id, auth.ActorFromContext(r.Context()))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	event := "triage.ticket.convert"
	code := http.StatusCreated
	if res.AlreadyConverted {
		event = "triage.ticket.convert_replay"
		code = http.StatusOK
	} else {
		obs.CaseCreated()
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{
		"ticket_id": res.Ticket.TicketID,
		"case_id":   res.Case.CaseID,
	})

	w.Header().Set("Location", "/v1/cases/"+res.Case.CaseID)
	writeJSON(w, code, convertResponse{
		Ticket:           res.Ticket,
		Case:             res.Case,
		AlreadyConverted: res.AlreadyConverted,
	})
}
