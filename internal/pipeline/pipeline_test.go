package pipeline_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/sift/internal/classify"
	"github.com/linnemanlabs/sift/internal/dedup/memgate"
	"github.com/linnemanlabs/sift/internal/notify/webhook"
	"github.com/linnemanlabs/sift/internal/pipeline"
	"github.com/linnemanlabs/sift/internal/signal"
	"github.com/linnemanlabs/sift/internal/triage"
	"github.com/linnemanlabs/sift/internal/triage/memstore"
)

type fixture struct {
	svc      *pipeline.Service
	store    *memstore.Store
	webhooks *atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)

	store := memstore.New()
	gate := memgate.New(1000, time.Hour)
	dispatcher := webhook.New(webhook.Config{
		DefaultURL:     srv.URL,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, nil, webhook.Hooks{})

	svc := pipeline.New(gate, store, dispatcher, classify.DefaultBreachThresholds(), nil, nil)
	return &fixture{svc: svc, store: store, webhooks: &calls}
}

func newsItem(title string) signal.Item {
	return signal.Item{
		Source:      "coindesk",
		Title:       title,
		URL:         "https://example.com/" + title,
		PublishedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestProcessNews_HighSeverityEscalates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	it, err := f.svc.ProcessNews(ctx, newsItem("Major Exchange Hack Detected"))
	if err != nil {
		t.Fatalf("ProcessNews: %v", err)
	}
	if it.Severity != signal.SeverityHigh {
		t.Errorf("Severity = %s, want high", it.Severity)
	}
	if it.Stage != signal.StageEscalated {
		t.Errorf("Stage = %s, want escalated", it.Stage)
	}
	if f.webhooks.Load() != 1 {
		t.Errorf("webhook calls = %d, want 1", f.webhooks.Load())
	}

	alerts := f.store.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("alert records = %d, want 1", len(alerts))
	}
	if !alerts[0].Delivered || alerts[0].SignalID != it.ID {
		t.Errorf("alert record = %+v", alerts[0])
	}
}

func TestProcessNews_MediumSeverityParks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	it, err := f.svc.ProcessNews(ctx, newsItem("SEC delays ETF decision"))
	if err != nil {
		t.Fatalf("ProcessNews: %v", err)
	}
	if it.Severity != signal.SeverityMedium || it.Stage != signal.StageStandby {
		t.Errorf("severity/stage = %s/%s, want medium/standby", it.Severity, it.Stage)
	}
	if it.Reason == "" {
		t.Error("standby item should carry a reason")
	}
	if f.webhooks.Load() != 0 {
		t.Errorf("webhook calls = %d, want 0", f.webhooks.Load())
	}
}

func TestProcessNews_Duplicate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	raw := newsItem("Routine market update")
	first, err := f.svc.ProcessNews(ctx, raw)
	if err != nil {
		t.Fatalf("first ProcessNews: %v", err)
	}

	_, err = f.svc.ProcessNews(ctx, raw)
	if !errors.Is(err, pipeline.ErrDuplicate) {
		t.Fatalf("second ProcessNews err = %v, want ErrDuplicate", err)
	}
	var dup *pipeline.DuplicateError
	if !errors.As(err, &dup) || dup.Fingerprint != first.Fingerprint {
		t.Errorf("DuplicateError fingerprint = %v, want %s", dup, first.Fingerprint)
	}
}

func TestProcessTVL_DropBreachEscalates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	change := -0.15
	it, err := f.svc.ProcessTVL(ctx, signal.TVLPoint{
		Chain:     "ethereum",
		Protocol:  "aave",
		Metric:    "tvl",
		Value:     5_000_000_000,
		TS:        time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		Change24h: &change,
	})
	if err != nil {
		t.Fatalf("ProcessTVL: %v", err)
	}
	if it.Stage != signal.StageEscalated || it.Severity != signal.SeverityHigh {
		t.Errorf("stage/severity = %s/%s, want escalated/high", it.Stage, it.Severity)
	}
	if f.webhooks.Load() != 1 {
		t.Errorf("webhook calls = %d, want 1", f.webhooks.Load())
	}
}

func TestProcessTVL_NoBreachParks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	change := -0.02
	it, err := f.svc.ProcessTVL(ctx, signal.TVLPoint{
		Chain:     "ethereum",
		Protocol:  "aave",
		Metric:    "tvl",
		Value:     5_000_000_000,
		TS:        time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		Change24h: &change,
	})
	if err != nil {
		t.Fatalf("ProcessTVL: %v", err)
	}
	if it.Stage != signal.StageStandby || it.Severity != signal.SeverityLow {
		t.Errorf("stage/severity = %s/%s, want standby/low", it.Stage, it.Severity)
	}
}

func TestTriage_EscalateDispatchesAlert(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	parked, err := f.svc.ProcessNews(ctx, newsItem("CPI print above forecast"))
	if err != nil {
		t.Fatalf("ProcessNews: %v", err)
	}

	it, err := f.svc.Triage(ctx, parked.ID, &triage.Decision{
		Outcome:  triage.OutcomeEscalated,
		Notes:    "desk wants eyes on this",
		Assignee: "oncall",
	})
	if err != nil {
		t.Fatalf("Triage: %v", err)
	}
	if it.Stage != signal.StageEscalated {
		t.Errorf("Stage = %s, want escalated", it.Stage)
	}
	if f.webhooks.Load() != 1 {
		t.Errorf("webhook calls = %d, want 1", f.webhooks.Load())
	}

	ds, err := f.store.DecisionsFor(ctx, it.ID)
	if err != nil || len(ds) != 1 {
		t.Fatalf("DecisionsFor = %v, %v", ds, err)
	}
	if ds[0].Outcome != triage.OutcomeEscalated {
		t.Errorf("Outcome = %s", ds[0].Outcome)
	}
}

func TestTriage_DismissIsQuiet(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	parked, err := f.svc.ProcessNews(ctx, newsItem("FOMC minutes released"))
	if err != nil {
		t.Fatalf("ProcessNews: %v", err)
	}

	it, err := f.svc.Triage(ctx, parked.ID, &triage.Decision{Outcome: triage.OutcomeDismissed})
	if err != nil {
		t.Fatalf("Triage: %v", err)
	}
	if it.Stage != signal.StageDismissed {
		t.Errorf("Stage = %s, want dismissed", it.Stage)
	}
	if f.webhooks.Load() != 0 {
		t.Errorf("webhook calls = %d, want 0 for dismissal", f.webhooks.Load())
	}
}

func TestTriage_Errors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Triage(ctx, "unknown", &triage.Decision{Outcome: triage.OutcomeDismissed}); !errors.Is(err, triage.ErrNotFound) {
		t.Errorf("unknown id err = %v, want ErrNotFound", err)
	}

	escalated, err := f.svc.ProcessNews(ctx, newsItem("Bridge exploit drains funds"))
	if err != nil {
		t.Fatalf("ProcessNews: %v", err)
	}
	if _, err := f.svc.Triage(ctx, escalated.ID, &triage.Decision{Outcome: triage.OutcomeDismissed}); !errors.Is(err, pipeline.ErrNotStandby) {
		t.Errorf("escalated item err = %v, want ErrNotStandby", err)
	}
}

func TestRunNewsBatch_Counts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	items := []signal.Item{
		newsItem("Exchange hack confirmed"), // high -> escalated
		newsItem("Banxico holds rate"),      // medium -> standby
		newsItem("Weekly roundup"),          // low -> standby
		newsItem("Exchange hack confirmed"), // duplicate, dropped
	}

	res := f.svc.RunNewsBatch(ctx, items)
	c := res.Counts
	if c.Ingested != 4 || c.Deduped != 3 || c.Standby != 2 || c.Escalated != 1 {
		t.Errorf("Counts = %+v", c)
	}
	if len(res.Items) != 3 {
		t.Errorf("Items = %d, want 3", len(res.Items))
	}
	if len(res.Errors) != 0 {
		t.Errorf("Errors = %v, want none", res.Errors)
	}
}

func TestRunNewsBatch_Idempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	items := []signal.Item{newsItem("Depeg warning on stablecoin"), newsItem("ETF inflows slow")}
	first := f.svc.RunNewsBatch(ctx, items)
	if first.Counts.Deduped != 2 {
		t.Fatalf("first run deduped = %d, want 2 (both admitted)", first.Counts.Deduped)
	}

	second := f.svc.RunNewsBatch(ctx, items)
	if second.Counts.Deduped != 0 || len(second.Items) != 0 {
		t.Errorf("second run Counts = %+v items=%d, want nothing past the gate", second.Counts, len(second.Items))
	}
	if second.Counts.Ingested != 2 || len(second.Errors) != 0 {
		t.Errorf("second run Counts = %+v errors=%v, duplicates are not errors", second.Counts, second.Errors)
	}
}

func TestRunTVLBatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	drop := -0.2
	res := f.svc.RunTVLBatch(ctx, []signal.TVLPoint{
		{Chain: "ethereum", Protocol: "aave", Metric: "tvl", Value: 4e9, TS: time.Now().UTC(), Change24h: &drop},
		{Chain: "solana", Protocol: "jupiter", Metric: "tvl", Value: 2e9, TS: time.Now().UTC()},
	})
	if res.Counts.Deduped != 2 || res.Counts.Escalated != 1 || res.Counts.Standby != 1 {
		t.Errorf("Counts = %+v", res.Counts)
	}
}
