package httpapi

import (
	"net/http"
	"strings"
	"time"

	"caseline.org/internal/audit"
	"caseline.org/internal/auth"
	"caseline.org/internal/casefile"
	"caseline.org/internal/obs"
)

type createCaseRequest struct {
	Title        string `json:"title"`
	Summary      string `json:"summary"`
	Jurisdiction string `json:"jurisdiction"`
	VIP          bool   `json:"vip"`
}

type setStatusRequest struct {
	Status string `json:"status"`
}

type setStageRequest struct {
	Stage    string `json:"stage"`
	Rollback bool   `json:"rollback"`
}

type seriousCauseRequest struct {
	FactsConfirmedAt time.Time `json:"facts_confirmed_at"`
}

func (a *API) handleCasesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createCase(w, r)
	case http.MethodGet:
		a.listCases(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleCaseResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/cases/")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	id := segments[0]

	if len(segments) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getCase(w, r, id)
		return
	}

	switch segments[1] {
	case "status":
		if len(segments) == 2 && r.Method == http.MethodPost {
			a.setStatus(w, r, id)
			return
		}
	case "stage":
		if len(segments) == 2 && r.Method == http.MethodPost {
			a.setStage(w, r, id)
			return
		}
	case "anonymize":
		if len(segments) == 2 && r.Method == http.MethodPost {
			a.anonymizeCase(w, r, id)
			return
		}
	case "serious-cause":
		switch {
		case len(segments) == 2 && r.Method == http.MethodPost:
			a.enableSeriousCause(w, r, id)
			return
		case len(segments) == 2 && r.Method == http.MethodDelete:
			a.disableSeriousCause(w, r, id)
			return
		case len(segments) == 3 && segments[2] == "recompute" && r.Method == http.MethodPost:
			a.recomputeSeriousCause(w, r, id)
			return
		}
	case "gates":
		if len(segments) == 4 && r.Method == http.MethodPost {
			gate := casefile.ParseGate(segments[2])
			if gate == casefile.GateUnknown {
				writeError(w, r, http.StatusBadRequest, "validation", "unknown gate")
				return
			}
			switch segments[3] {
			case "reach":
				a.gateProgress(w, r, id, gate, false)
				return
			case "complete":
				a.gateProgress(w, r, id, gate, true)
				return
			}
		}
	}
	writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
}

func (a *API) createCase(w http.ResponseWriter, r *http.Request) {
	if err := a.requirePermission(r.Context(), auth.PermCaseWrite); err != nil {
		handleDomainError(w, r, err)
		return
	}
	var req createCaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", err.Error())
		return
	}

	c, err := a.cases.CreateCase(r.Context(), casefile.CreateCaseInput{
		Title:        req.Title,
		Summary:      req.Summary,
		Jurisdiction: casefile.ParseJurisdiction(req.Jurisdiction),
		VIP:          req.VIP,
		CreatedBy:    auth.ActorFromContext(r.Context()),
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	obs.CaseCreated()
	_ = audit.LogEvent(r.Context(), "case.create", map[string]any{
		"case_id":      c.CaseID,
		"jurisdiction": c.Jurisdiction.String(),
		"vip":          c.VIP,
	})

	w.Header().Set("Location", "/v1/cases/"+c.CaseID)
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) listCases(w http.ResponseWriter, r *http.Request) {
	var f casefile.Filter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := casefile.ParseStatus(raw)
		if status == casefile.StatusUnknown {
			writeError(w, r, http.StatusBadRequest, "validation", "unknown status")
			return
		}
		f.Status = &status
	}
	if raw := r.URL.Query().Get("stage"); raw != "" {
		stage := casefile.ParseStage(raw)
		if stage == casefile.StageUnknown {
			writeError(w, r, http.StatusBadRequest, "validation", "unknown stage")
			return
		}
		f.Stage = &stage
	}
	f.SeriousOnly = r.URL.Query().Get("serious") == "true"

	items, err := a.cases.ListCases(r.Context(), f)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) getCase(w http.ResponseWriter, r *http.Request, id string) {
	c, err := a.cases.GetCase(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) setStatus(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requirePermission(r.Context(), auth.PermCaseWrite); err != nil {
		handleDomainError(w, r, err)
		return
	}
	var req setStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", err.Error())
		return
	}

	c, err := a.cases.SetStatus(r.Context(), id, casefile.ParseStatus(req.Status))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "case.status.set", map[string]any{
		"case_id": c.CaseID,
		"status":  c.Status.String(),
	})
	writeJSON(w, http.StatusOK, c)
}

func (a *API) setStage(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requirePermission(r.Context(), auth.PermCaseWrite); err != nil {
		handleDomainError(w, r, err)
		return
	}
	var req setStageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if req.Rollback {
		if err := a.requirePermission(r.Context(), auth.PermStageRollback); err != nil {
			handleDomainError(w, r, err)
			return
		}
	}

	c, err := a.cases.SetStage(r.Context(), id, casefile.ParseStage(req.Stage), req.Rollback)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "case.stage.set", map[string]any{
		"case_id":  c.CaseID,
		"stage":    c.Stage.String(),
		"rollback": req.Rollback,
	})
	writeJSON(w, http.StatusOK, c)
}

func (a *API) anonymizeCase(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requirePermission(r.Context(), auth.PermCaseAnonymize); err != nil {
		handleDomainError(w, r, err)
		return
	}
	c, err := a.cases.Anonymize(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "case.anonymize", map[string]any{
		"case_id": c.CaseID,
	})
	writeJSON(w, http.StatusOK, c)
}

func (a *API) enableSeriousCause(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requirePermission(r.Context(), auth.PermSeriousCause); err != nil {
		handleDomainError(w, r, err)
		return
	}
	var req seriousCauseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", err.Error())
		return
	}

	c, err := a.cases.EnableSeriousCause(r.Context(), id, req.FactsConfirmedAt)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "case.serious_cause.enable", map[string]any{
		"case_id":            c.CaseID,
		"facts_confirmed_at": req.FactsConfirmedAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, c)
}

func (a *API) disableSeriousCause(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requirePermission(r.Context(), auth.PermSeriousCause); err != nil {
		handleDomainError(w, r, err)
		return
	}
	c, err := a.cases.DisableSeriousCause(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "case.serious_cause.disable", map[string]any{
		"case_id": c.CaseID,
	})
	writeJSON(w, http.StatusOK, c)
}

func (a *API) recomputeSeriousCause(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requirePermission(r.Context(), auth.PermSeriousCause); err != nil {
		handleDomainError(w, r, err)
		return
	}
	var req seriousCauseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", err.Error())
		return
	}

	c, err := a.cases.RecomputeSeriousCause(r.Context(), id, req.FactsConfirmedAt)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "case.serious_cause.recompute", map[string]any{
		"case_id":            c.CaseID,
		"facts_confirmed_at": req.FactsConfirmedAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, c)
}

func (a *API) gateProgress(w http.ResponseWriter, r *http.Request, id string, gate casefile.Gate, complete bool) {
	if err := a.requirePermission(r.Context(), auth.PermCaseWrite); err != nil {
		handleDomainError(w, r, err)
		return
	}
	var (
		c     casefile.Case
		err   error
		event = "case.gate.reach"
	)
	if complete {
		c, err = a.cases.CompleteGate(r.Context(), id, gate)
		event = "case.gate.complete"
	} else {
		c, err = a.cases.ReachGate(r.Context(), id, gate)
	}
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{
		"case_id": c.CaseID,
		"gate":    gate.String(),
	})
	writeJSON(w, http.StatusOK, c)
}
