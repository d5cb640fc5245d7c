// Package ingestapi exposes the HTTP surface: signal ingestion, standby
// and triaged listings, triage decisions, and advisor recommendations.
package ingestapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/sift/internal/advisor"
	"github.com/linnemanlabs/sift/internal/pipeline"
	"github.com/linnemanlabs/sift/internal/signal"
	"github.com/linnemanlabs/sift/internal/triage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// Pipeline defines the business operations ingestapi needs.
type Pipeline interface {
	ProcessNews(ctx context.Context, raw signal.Item) (*triage.Item, error)
	ProcessTVL(ctx context.Context, p signal.TVLPoint) (*triage.Item, error)
	RunNewsBatch(ctx context.Context, items []signal.Item) *pipeline.BatchResult
	RunTVLBatch(ctx context.Context, points []signal.TVLPoint) *pipeline.BatchResult
	Triage(ctx context.Context, id string, d *triage.Decision) (*triage.Item, error)
}

// Advisor produces a triage recommendation for a standby item. Optional;
// a nil advisor turns the advise endpoint into 503.
type Advisor interface {
	Recommend(ctx context.Context, it *triage.Item) (*advisor.Recommendation, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger  log.Logger
	svc     Pipeline
	store   triage.Store
	advisor Advisor
}

// New creates a new API handler. advisor may be nil.
func New(logger log.Logger, svc Pipeline, store triage.Store, adv Advisor) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("pipeline service is required"))
	}
	if store == nil {
		panic(xerrors.New("triage store is required"))
	}
	return &API{
		logger:  logger,
		svc:     svc,
		store:   store,
		advisor: adv,
	}
}

// RegisterRoutes attaches API endpoints to the router. guard wraps the
// mutating endpoints (ingest, triage, advise); nil means unguarded.
func (a *API) RegisterRoutes(r chi.Router, guard func(http.Handler) http.Handler) {
	if guard == nil {
		guard = func(h http.Handler) http.Handler { return h }
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/standby", a.handleListStandby)
		r.Get("/triaged", a.handleListTriaged)
		r.Get("/signals/{id}", a.handleGetSignal)
		r.Group(func(r chi.Router) {
			r.Use(guard)
			r.Post("/ingest/news", a.handleIngestNews)
			r.Post("/ingest/tvl", a.handleIngestTVL)
			r.Post("/standby/{id}/triage", a.handleTriage)
			r.Post("/standby/{id}/advise", a.handleAdvise)
		})
	})
}

// signalSummary is the per-signal fragment shared by single and batch
// ingest responses.
type signalSummary struct {
	Success     bool   `json:"success"`
	SignalID    string `json:"signalId"`
	Fingerprint string `json:"fingerprint"`
	Severity    string `json:"severity"`
	Stage       string `json:"stage"`
}

func summarize(it *triage.Item) signalSummary {
	return signalSummary{
		Success:     true,
		SignalID:    it.ID,
		Fingerprint: it.Fingerprint,
		Severity:    string(it.Severity),
		Stage:       string(it.Stage),
	}
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) writeInvalid(w http.ResponseWriter, details []string) {
	a.writeJSON(w, http.StatusBadRequest, map[string]any{
		"success": false,
		"error":   "invalid payload",
		"details": details,
	})
}

func (a *API) writeDuplicate(w http.ResponseWriter, fp string) {
	a.writeJSON(w, http.StatusConflict, map[string]any{
		"success":     false,
		"error":       "duplicate signal",
		"fingerprint": fp,
	})
}

func (a *API) writeInternal(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	a.logger.Error(ctx, err, msg)
	a.writeJSON(w, http.StatusInternalServerError, map[string]any{
		"success": false,
		"error":   "internal error",
	})
}

// parseLimit clamps ?limit= to (0, maxListLimit]; absent or invalid
// values take the default.
func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
