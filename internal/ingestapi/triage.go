package ingestapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/sift/internal/pipeline"
	"github.com/linnemanlabs/sift/internal/signal"
	"github.com/linnemanlabs/sift/internal/triage"
)

// handleListStandby lists items by stage, ?status= selecting standby
// (default), escalated, or dismissed.
func (a *API) handleListStandby(w http.ResponseWriter, r *http.Request) {
	stage := signal.StageStandby
	if s := r.URL.Query().Get("status"); s != "" {
		stage = signal.Stage(s)
		switch stage {
		case signal.StageStandby, signal.StageEscalated, signal.StageDismissed:
		default:
			a.writeInvalid(w, []string{"status must be standby, escalated, or dismissed"})
			return
		}
	}

	items, err := a.store.ListStandby(r.Context(), stage, parseLimit(r))
	if err != nil {
		a.writeInternal(r.Context(), w, err, "failed to list standby items")
		return
	}
	if items == nil {
		items = []*triage.Item{}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"count": len(items),
		"items": items,
	})
}

func (a *API) handleListTriaged(w http.ResponseWriter, r *http.Request) {
	items, err := a.store.ListTriaged(r.Context(), parseLimit(r))
	if err != nil {
		a.writeInternal(r.Context(), w, err, "failed to list triaged items")
		return
	}
	if items == nil {
		items = []*triage.TriagedItem{}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"count": len(items),
		"items": items,
	})
}

func (a *API) handleGetSignal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sift.signal.id", id))

	it, ok, err := a.store.Get(r.Context(), id)
	if err != nil {
		a.writeInternal(r.Context(), w, err, "failed to get signal")
		return
	}
	if !ok {
		a.writeJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"error":   "not found",
		})
		return
	}

	decisions, err := a.store.DecisionsFor(r.Context(), id)
	if err != nil {
		a.writeInternal(r.Context(), w, err, "failed to load decisions")
		return
	}
	if decisions == nil {
		decisions = []*triage.Decision{}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"signal":    it,
		"decisions": decisions,
	})
}

// decisionRequest resolves a standby item. decision accepts both the verb
// and the resulting stage spelling.
type decisionRequest struct {
	Decision   string `json:"decision"`
	Notes      string `json:"notes"`
	Assignee   string `json:"assignee"`
	EscalateTo string `json:"escalate_to"`
}

func parseOutcome(s string) (triage.Outcome, bool) {
	switch s {
	case "escalate", "escalated":
		return triage.OutcomeEscalated, true
	case "dismiss", "dismissed":
		return triage.OutcomeDismissed, true
	}
	return "", false
}

func (a *API) handleTriage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sift.signal.id", id))

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeInvalid(w, []string{"invalid JSON"})
		return
	}
	outcome, ok := parseOutcome(req.Decision)
	if !ok {
		a.writeInvalid(w, []string{"decision must be escalate or dismiss"})
		return
	}

	it, err := a.svc.Triage(r.Context(), id, &triage.Decision{
		Outcome:    outcome,
		Notes:      req.Notes,
		Assignee:   req.Assignee,
		EscalateTo: req.EscalateTo,
	})
	if err != nil {
		switch {
		case errors.Is(err, triage.ErrNotFound):
			a.writeJSON(w, http.StatusNotFound, map[string]any{
				"success": false,
				"error":   "not found",
			})
		case errors.Is(err, pipeline.ErrNotStandby):
			a.writeJSON(w, http.StatusConflict, map[string]any{
				"success": false,
				"error":   "item already left standby",
			})
		default:
			a.writeInternal(r.Context(), w, err, "failed to apply triage decision")
		}
		return
	}

	span.SetAttributes(attribute.String("sift.signal.stage", string(it.Stage)))
	a.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"signal":  it,
	})
}

// handleAdvise asks the advisor for a recommendation without applying it.
func (a *API) handleAdvise(w http.ResponseWriter, r *http.Request) {
	if a.advisor == nil {
		a.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success": false,
			"error":   "advisor not configured",
		})
		return
	}

	id := chi.URLParam(r, "id")
	it, ok, err := a.store.Get(r.Context(), id)
	if err != nil {
		a.writeInternal(r.Context(), w, err, "failed to get signal")
		return
	}
	if !ok {
		a.writeJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"error":   "not found",
		})
		return
	}
	if it.Stage != signal.StageStandby {
		a.writeJSON(w, http.StatusConflict, map[string]any{
			"success": false,
			"error":   "item already left standby",
		})
		return
	}

	rec, err := a.advisor.Recommend(r.Context(), it)
	if err != nil {
		a.writeInternal(r.Context(), w, err, "advisor recommendation failed")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"signalId":       it.ID,
		"recommendation": rec,
	})
}
