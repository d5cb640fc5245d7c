package ingestapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/sift/internal/advisor"
	"github.com/linnemanlabs/sift/internal/classify"
	"github.com/linnemanlabs/sift/internal/dedup/memgate"
	"github.com/linnemanlabs/sift/internal/notify/webhook"
	"github.com/linnemanlabs/sift/internal/pipeline"
	"github.com/linnemanlabs/sift/internal/triage"
	"github.com/linnemanlabs/sift/internal/triage/memstore"
)

type stubAdvisor struct {
	rec *advisor.Recommendation
	err error
}

func (s *stubAdvisor) Recommend(context.Context, *triage.Item) (*advisor.Recommendation, error) {
	return s.rec, s.err
}

func newTestRouter(t *testing.T, adv Advisor) (chi.Router, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	gate := memgate.New(1000, time.Hour)
	dispatcher := webhook.New(webhook.Config{}, nil, webhook.Hooks{})
	svc := pipeline.New(gate, store, dispatcher, classify.DefaultBreachThresholds(), nil, nil)

	api := New(nil, svc, store, adv)
	r := chi.NewRouter()
	api.RegisterRoutes(r, nil)
	return r, store
}

func doJSON(t *testing.T, r chi.Router, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var resp map[string]any
	if rec.Body.Len() > 0 {
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
		}
	}
	return rec, resp
}

const validNews = `{
	"source": "coindesk",
	"title": "Major Exchange Hack Detected",
	"summary": "hot wallet drained",
	"url": "https://example.com/hack",
	"publishedAt": "2026-08-01T12:00:00Z"
}`

// Constructor

func TestNew_NilSvc_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil, nil, nil) did not panic")
		}
	}()
	New(nil, nil, nil, nil)
}

// Routing

func TestRegisterRoutes_Methods(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, nil)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"GET ingest/news not allowed", http.MethodGet, "/api/v1/ingest/news", http.StatusMethodNotAllowed},
		{"DELETE ingest/tvl not allowed", http.MethodDelete, "/api/v1/ingest/tvl", http.StatusMethodNotAllowed},
		{"POST standby not allowed", http.MethodPost, "/api/v1/standby", http.StatusMethodNotAllowed},
		{"unknown path", http.MethodGet, "/api/v1/unknown", http.StatusNotFound},
		{"v2 not routed", http.MethodPost, "/api/v2/ingest/news", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec, _ := doJSON(t, r, tt.method, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRegisterRoutes_GuardWrapsMutatingOnly(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	gate := memgate.New(1000, time.Hour)
	dispatcher := webhook.New(webhook.Config{}, nil, webhook.Hooks{})
	svc := pipeline.New(gate, store, dispatcher, classify.DefaultBreachThresholds(), nil, nil)

	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}

	api := New(nil, svc, store, nil)
	r := chi.NewRouter()
	api.RegisterRoutes(r, deny)

	rec, _ := doJSON(t, r, http.MethodPost, "/api/v1/ingest/news", validNews)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("guarded POST = %d, want 401", rec.Code)
	}

	rec, _ = doJSON(t, r, http.MethodGet, "/api/v1/standby", "")
	if rec.Code != http.StatusOK {
		t.Errorf("unguarded GET = %d, want 200", rec.Code)
	}
}

// News ingestion

func TestIngestNews_Single(t *testing.T) {
	t.Parallel()

	r, store := newTestRouter(t, nil)

	rec, resp := doJSON(t, r, http.MethodPost, "/api/v1/ingest/news", validNews)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %v)", rec.Code, resp)
	}
	if resp["success"] != true {
		t.Errorf("success = %v", resp["success"])
	}
	if resp["severity"] != "high" || resp["stage"] != "escalated" {
		t.Errorf("severity/stage = %v/%v", resp["severity"], resp["stage"])
	}

	id, _ := resp["signalId"].(string)
	it, ok, err := store.Get(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("stored item missing: %v", err)
	}
	if it.Title != "Major Exchange Hack Detected" {
		t.Errorf("Title = %q", it.Title)
	}
}

func TestIngestNews_Duplicate(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, nil)

	if rec, _ := doJSON(t, r, http.MethodPost, "/api/v1/ingest/news", validNews); rec.Code != http.StatusCreated {
		t.Fatalf("first ingest = %d", rec.Code)
	}

	rec, resp := doJSON(t, r, http.MethodPost, "/api/v1/ingest/news", validNews)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second ingest = %d, want 409", rec.Code)
	}
	if resp["success"] != false || resp["error"] != "duplicate signal" {
		t.Errorf("resp = %v", resp)
	}
	if fp, _ := resp["fingerprint"].(string); fp == "" {
		t.Error("conflict response missing fingerprint")
	}
}

func TestIngestNews_Invalid(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", `{bad`},
		{"missing fields", `{"summary": "no title"}`},
		{"bad timestamp", `{"source":"s","title":"t","url":"u","publishedAt":"yesterday"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec, resp := doJSON(t, r, http.MethodPost, "/api/v1/ingest/news", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if resp["error"] != "invalid payload" {
				t.Errorf("error = %v", resp["error"])
			}
		})
	}
}

func TestIngestNews_Batch(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, nil)

	body := `[
		{"source":"s","title":"Exchange hack confirmed","url":"https://e.com/1","publishedAt":"2026-08-01T12:00:00Z"},
		{"source":"s","title":"Weekly roundup","url":"https://e.com/2","publishedAt":"2026-08-01T12:00:00Z"},
		{"source":"s","title":"missing url","publishedAt":"2026-08-01T12:00:00Z"},
		{"source":"s","title":"Exchange hack confirmed","url":"https://e.com/1","publishedAt":"2026-08-01T12:00:00Z"}
	]`

	rec, resp := doJSON(t, r, http.MethodPost, "/api/v1/ingest/news", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("batch status = %d, want 200", rec.Code)
	}
	if resp["processed"] != float64(2) {
		t.Errorf("processed = %v, want 2", resp["processed"])
	}
	errs, _ := resp["errors"].([]any)
	if len(errs) != 1 {
		t.Errorf("errors = %v, want exactly the invalid item", errs)
	}
	counts, _ := resp["counts"].(map[string]any)
	if counts["deduped"] != float64(2) {
		t.Errorf("counts = %v, want deduped 2 (the duplicate is dropped)", counts)
	}
}

// TVL ingestion

func TestIngestTVL_FieldSpellings(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, nil)

	tests := []struct {
		name      string
		body      string
		wantStage string
	}{
		{
			"value/ts with breach",
			`{"chain":"ethereum","protocol":"aave","value":4000000000,"ts":"2026-08-01T00:00:00Z","change24h":-0.15}`,
			"escalated",
		},
		{
			"tvl/timestamp quiet",
			`{"chain":"solana","protocol":"jupiter","tvl":2000000000,"timestamp":"2026-08-01T00:00:00Z","change24h":-0.01}`,
			"standby",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec, resp := doJSON(t, r, http.MethodPost, "/api/v1/ingest/tvl", tt.body)
			if rec.Code != http.StatusCreated {
				t.Fatalf("status = %d, want 201 (body %v)", rec.Code, resp)
			}
			if resp["stage"] != tt.wantStage {
				t.Errorf("stage = %v, want %s", resp["stage"], tt.wantStage)
			}
		})
	}
}

func TestIngestTVL_Invalid(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, nil)

	rec, resp := doJSON(t, r, http.MethodPost, "/api/v1/ingest/tvl", `{"chain":"ethereum"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	details, _ := resp["details"].([]any)
	if len(details) < 2 {
		t.Errorf("details = %v, want protocol/value/ts problems", details)
	}
}

// Listings and lookup

func seedStandby(t *testing.T, r chi.Router) string {
	t.Helper()
	rec, resp := doJSON(t, r, http.MethodPost, "/api/v1/ingest/news",
		`{"source":"s","title":"SEC delays ETF decision","url":"https://e.com/sec","publishedAt":"2026-08-01T12:00:00Z"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("seed ingest = %d", rec.Code)
	}
	return resp["signalId"].(string)
}

func TestListStandby(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, nil)
	seedStandby(t, r)

	rec, resp := doJSON(t, r, http.MethodGet, "/api/v1/standby", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp["count"] != float64(1) {
		t.Errorf("count = %v, want 1", resp["count"])
	}

	rec, _ = doJSON(t, r, http.MethodGet, "/api/v1/standby?status=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus status = %d, want 400", rec.Code)
	}

	rec, resp = doJSON(t, r, http.MethodGet, "/api/v1/standby?status=escalated", "")
	if rec.Code != http.StatusOK || resp["count"] != float64(0) {
		t.Errorf("escalated listing = %d %v", rec.Code, resp)
	}
}

func TestGetSignal(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, nil)
	id := seedStandby(t, r)

	rec, resp := doJSON(t, r, http.MethodGet, "/api/v1/signals/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	sig, _ := resp["signal"].(map[string]any)
	if sig == nil || sig["id"] != id {
		t.Errorf("signal = %v, want id %s", resp["signal"], id)
	}
	if decs, ok := resp["decisions"].([]any); !ok || len(decs) != 0 {
		t.Errorf("decisions = %v, want empty array", resp["decisions"])
	}

	rec, _ = doJSON(t, r, http.MethodGet, "/api/v1/signals/unknown", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown signal = %d, want 404", rec.Code)
	}
}

// Triage decisions

func TestTriageDecision_Escalate(t *testing.T) {
	t.Parallel()

	r, store := newTestRouter(t, nil)
	id := seedStandby(t, r)

	rec, resp := doJSON(t, r, http.MethodPost, "/api/v1/standby/"+id+"/triage",
		`{"decision":"escalate","notes":"desk confirmed","assignee":"oncall"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %v)", rec.Code, resp)
	}
	sig, _ := resp["signal"].(map[string]any)
	if sig["stage"] != "escalated" {
		t.Errorf("stage = %v, want escalated", sig["stage"])
	}

	triaged, err := store.ListTriaged(context.Background(), 10)
	if err != nil || len(triaged) != 1 {
		t.Fatalf("ListTriaged = %v, %v", triaged, err)
	}

	// already resolved: second decision conflicts
	rec, _ = doJSON(t, r, http.MethodPost, "/api/v1/standby/"+id+"/triage", `{"decision":"dismiss"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("second decision = %d, want 409", rec.Code)
	}
}

func TestTriageDecision_Errors(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, nil)
	id := seedStandby(t, r)

	rec, _ := doJSON(t, r, http.MethodPost, "/api/v1/standby/unknown/triage", `{"decision":"dismiss"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id = %d, want 404", rec.Code)
	}

	rec, _ = doJSON(t, r, http.MethodPost, "/api/v1/standby/"+id+"/triage", `{"decision":"maybe"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad decision = %d, want 400", rec.Code)
	}
}

// Advisor

func TestAdvise_Unconfigured(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, nil)
	id := seedStandby(t, r)

	rec, resp := doJSON(t, r, http.MethodPost, "/api/v1/standby/"+id+"/advise", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if resp["error"] != "advisor not configured" {
		t.Errorf("error = %v", resp["error"])
	}
}

func TestAdvise_Recommendation(t *testing.T) {
	t.Parallel()

	adv := &stubAdvisor{rec: &advisor.Recommendation{
		Decision: triage.OutcomeEscalated,
		Notes:    "regulatory exposure",
	}}
	r, _ := newTestRouter(t, adv)
	id := seedStandby(t, r)

	rec, resp := doJSON(t, r, http.MethodPost, "/api/v1/standby/"+id+"/advise", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %v)", rec.Code, resp)
	}
	out, _ := resp["recommendation"].(map[string]any)
	if out["decision"] != "escalated" {
		t.Errorf("decision = %v", out["decision"])
	}
}

func TestAdvise_NotStandby(t *testing.T) {
	t.Parallel()

	adv := &stubAdvisor{rec: &advisor.Recommendation{Decision: triage.OutcomeDismissed}}
	r, _ := newTestRouter(t, adv)

	// high severity escalates directly, so it is never advisable
	rec, resp := doJSON(t, r, http.MethodPost, "/api/v1/ingest/news", validNews)
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest = %d", rec.Code)
	}
	id := resp["signalId"].(string)

	rec, _ = doJSON(t, r, http.MethodPost, "/api/v1/standby/"+id+"/advise", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("advise on escalated = %d, want 409", rec.Code)
	}
}

// parseLimit

func TestParseLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query string
		want  int
	}{
		{"", defaultListLimit},
		{"limit=10", 10},
		{"limit=100", 100},
		{"limit=500", maxListLimit},
		{"limit=0", defaultListLimit},
		{"limit=-5", defaultListLimit},
		{"limit=abc", defaultListLimit},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/standby?"+tt.query, http.NoBody)
		if got := parseLimit(req); got != tt.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}

// Fuzz

func FuzzIngestNews(f *testing.F) {
	store := memstore.New()
	gate := memgate.New(1000, time.Hour)
	dispatcher := webhook.New(webhook.Config{}, nil, webhook.Hooks{})
	svc := pipeline.New(gate, store, dispatcher, classify.DefaultBreachThresholds(), nil, nil)
	api := New(nil, svc, store, nil)
	r := chi.NewRouter()
	api.RegisterRoutes(r, nil)

	seeds := []string{
		"",
		"{}",
		"[]",
		validNews,
		"[" + validNews + "]",
		"{invalid json",
		"\x00\x01\xff",
		strings.Repeat("a", 10000),
	}
	for _, s := range seeds {
		f.Add([]byte(s))
	}

	f.Fuzz(func(t *testing.T, body []byte) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/news", strings.NewReader(string(body)))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		// must not panic
		r.ServeHTTP(rec, req)

		switch rec.Code {
		case http.StatusCreated, http.StatusOK, http.StatusBadRequest, http.StatusConflict:
		default:
			t.Errorf("POST /api/v1/ingest/news body len=%d = %d", len(body), rec.Code)
		}
	})
}
