// Package pipeline orchestrates the signal lifecycle: dedup gating,
// severity classification, standby parking or direct escalation, and
// alert dispatch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/sift/internal/classify"
	"github.com/linnemanlabs/sift/internal/dedup"
	"github.com/linnemanlabs/sift/internal/notify/webhook"
	"github.com/linnemanlabs/sift/internal/signal"
	"github.com/linnemanlabs/sift/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sift/internal/pipeline")

// ErrDuplicate marks a signal rejected by the dedup gate. Use errors.Is;
// the concrete error is a *DuplicateError carrying the fingerprint.
var ErrDuplicate = xerrors.New("pipeline: duplicate signal")

// ErrNotStandby is returned when a triage decision targets an item that
// already left standby.
var ErrNotStandby = xerrors.New("pipeline: item is not in standby")

// DuplicateError reports the fingerprint the gate rejected.
type DuplicateError struct {
	Fingerprint string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("pipeline: duplicate signal %s", e.Fingerprint)
}

// Is lets errors.Is(err, ErrDuplicate) match.
func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

// Counts summarizes a batch run. Each field counts items that reached at
// least that stage; duplicates dropped by the gate appear only in Ingested.
type Counts struct {
	Ingested   int   `json:"ingested"`
	Deduped    int   `json:"deduped"`
	Standby    int   `json:"standby"`
	Escalated  int   `json:"escalated"`
	Dismissed  int   `json:"dismissed"`
	DurationMS int64 `json:"durationMs"`
}

// BatchError records a per-item failure inside a batch. Duplicates are not
// errors; they are dropped and excluded from downstream counts.
type BatchError struct {
	Index   int    `json:"index"`
	Message string `json:"error"`
}

// BatchResult is the outcome of a batch run. Errors never fail the batch.
type BatchResult struct {
	Counts Counts
	Items  []*triage.Item
	Errors []BatchError
}

// Service runs signals through the pipeline stages.
type Service struct {
	gate       dedup.Gate
	store      triage.Store
	dispatcher *webhook.Dispatcher
	thresholds classify.BreachThresholds
	logger     log.Logger
	metrics    *Metrics

	now func() time.Time
}

// New creates the pipeline service. gate, store, and dispatcher are
// required; metrics may be nil.
func New(gate dedup.Gate, store triage.Store, dispatcher *webhook.Dispatcher, thresholds classify.BreachThresholds, logger log.Logger, metrics *Metrics) *Service {
	if gate == nil {
		panic(xerrors.New("pipeline: gate is required"))
	}
	if store == nil {
		panic(xerrors.New("pipeline: store is required"))
	}
	if dispatcher == nil {
		panic(xerrors.New("pipeline: dispatcher is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		gate:       gate,
		store:      store,
		dispatcher: dispatcher,
		thresholds: thresholds,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// ProcessNews runs one news item through dedup, classification, and
// routing. Returns *DuplicateError when the gate rejects the fingerprint.
func (s *Service) ProcessNews(ctx context.Context, raw signal.Item) (*triage.Item, error) {
	ctx, span := tracer.Start(ctx, "pipeline.ProcessNews")
	defer span.End()

	fp := signal.Fingerprint(raw)
	s.countIngested(signal.NamespaceNews)

	isNew, err := s.gate.Check(ctx, signal.NamespaceNews, fp)
	if err != nil {
		return nil, fmt.Errorf("dedup check: %w", err)
	}
	if !isNew {
		s.countDuplicate(signal.NamespaceNews)
		return nil, &DuplicateError{Fingerprint: fp}
	}

	now := s.now().UTC()
	it := &triage.Item{
		ID:          ulid.Make().String(),
		Fingerprint: fp,
		Namespace:   signal.NamespaceNews,
		Source:      raw.Source,
		Title:       raw.Title,
		Summary:     raw.Summary,
		URL:         raw.URL,
		Category:    raw.Category,
		Tickers:     raw.Tickers,
		Keywords:    raw.Keywords,
		Severity:    classify.Severity(raw.Title, raw.Summary),
		Stage:       signal.StageDeduped,
		PublishedAt: raw.PublishedAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	return s.route(ctx, it)
}

// ProcessTVL runs one TVL observation through dedup and the boundary
// breach check.
func (s *Service) ProcessTVL(ctx context.Context, p signal.TVLPoint) (*triage.Item, error) {
	ctx, span := tracer.Start(ctx, "pipeline.ProcessTVL")
	defer span.End()

	fp := signal.TVLFingerprint(p)
	s.countIngested(signal.NamespaceTVL)

	isNew, err := s.gate.Check(ctx, signal.NamespaceTVL, fp)
	if err != nil {
		return nil, fmt.Errorf("dedup check: %w", err)
	}
	if !isNew {
		s.countDuplicate(signal.NamespaceTVL)
		return nil, &DuplicateError{Fingerprint: fp}
	}

	breach := classify.TVLBreach(p, s.thresholds)

	now := s.now().UTC()
	it := &triage.Item{
		ID:          ulid.Make().String(),
		Fingerprint: fp,
		Namespace:   signal.NamespaceTVL,
		Source:      p.Chain,
		Title:       fmt.Sprintf("%s %s on %s: %.0f", p.Protocol, p.Metric, p.Chain, p.Value),
		Category:    "tvl",
		Severity:    breach.Severity,
		Stage:       signal.StageDeduped,
		Reason:      breach.Reason,
		PublishedAt: p.TS,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	return s.route(ctx, it)
}

// route advances a deduped item to standby or directly to escalated.
func (s *Service) route(ctx context.Context, it *triage.Item) (*triage.Item, error) {
	if it.Severity.AtLeast(signal.SeverityHigh) {
		it.Stage = signal.StageEscalated
		if it.Reason == "" {
			it.Reason = fmt.Sprintf("auto-escalated: %s severity", it.Severity)
		}
	} else {
		it.Stage = signal.StageStandby
		if it.Reason == "" {
			it.Reason = fmt.Sprintf("parked for triage: %s severity", it.Severity)
		}
	}

	if err := s.store.Put(ctx, it); err != nil {
		return nil, fmt.Errorf("persist signal: %w", err)
	}
	s.countStage(it.Stage)

	if it.Stage == signal.StageEscalated {
		s.dispatch(ctx, it)
	}

	s.logger.Info(ctx, "signal processed",
		"signal_id", it.ID,
		"namespace", string(it.Namespace),
		"severity", string(it.Severity),
		"stage", string(it.Stage),
	)
	return it, nil
}

// Triage resolves a standby item with an explicit decision. Escalation
// dispatches an alert; dismissal only records the decision.
func (s *Service) Triage(ctx context.Context, id string, d *triage.Decision) (*triage.Item, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Triage")
	defer span.End()

	it, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch signal: %w", err)
	}
	if !ok {
		return nil, triage.ErrNotFound
	}
	if it.Stage != signal.StageStandby {
		return nil, ErrNotStandby
	}

	next := d.Outcome.Stage()
	if !it.Stage.CanAdvance(next) {
		return nil, ErrNotStandby
	}

	d.ID = ulid.Make().String()
	d.SignalID = it.ID
	d.DecidedAt = s.now().UTC()
	if err := s.store.RecordDecision(ctx, d); err != nil {
		return nil, fmt.Errorf("record decision: %w", err)
	}

	it.Stage = next
	it.Reason = fmt.Sprintf("triage decision: %s", d.Outcome)
	it.UpdatedAt = d.DecidedAt
	if err := s.store.Put(ctx, it); err != nil {
		return nil, fmt.Errorf("persist signal: %w", err)
	}
	s.countStage(it.Stage)

	if it.Stage == signal.StageEscalated {
		s.dispatch(ctx, it)
	}

	s.logger.Info(ctx, "triage decision applied",
		"signal_id", it.ID,
		"outcome", string(d.Outcome),
		"assignee", d.Assignee,
	)
	return it, nil
}

// dispatch delivers an escalation alert and appends the persisted record.
// Delivery failure never fails the pipeline; the record keeps the
// diagnostic.
func (s *Service) dispatch(ctx context.Context, it *triage.Item) {
	traceID := ""
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}

	meta := map[string]string{
		"source":    it.Source,
		"namespace": string(it.Namespace),
	}
	if it.URL != "" {
		meta["url"] = it.URL
	}
	if it.Category != "" {
		meta["category"] = it.Category
	}

	msg := fmt.Sprintf("[%s] %s", it.Severity, it.Title)
	res := s.dispatcher.Dispatch(ctx, &webhook.Payload{
		Message:  msg,
		Severity: it.Severity,
		TraceID:  traceID,
		Meta:     meta,
	})

	rec := &triage.AlertRecord{
		ID:         ulid.Make().String(),
		SignalID:   it.ID,
		Severity:   it.Severity,
		Message:    msg,
		TraceID:    traceID,
		Meta:       meta,
		Delivered:  res.OK && !res.NoOp,
		Diagnostic: res.Diagnostic,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.AppendAlert(ctx, rec); err != nil {
		s.logger.Error(ctx, err, "failed to append alert record", "signal_id", it.ID)
	}

	if !res.OK {
		s.logger.Warn(ctx, "alert not delivered",
			"signal_id", it.ID,
			"attempts", res.Attempts,
			"diagnostic", res.Diagnostic,
		)
	}
}

// RunNewsBatch processes a slice of news items. Duplicates are skipped;
// per-item failures are collected, never fatal.
func (s *Service) RunNewsBatch(ctx context.Context, items []signal.Item) *BatchResult {
	ctx, span := tracer.Start(ctx, "pipeline.RunNewsBatch")
	defer span.End()

	start := s.now()
	res := &BatchResult{}
	for i, raw := range items {
		res.Counts.Ingested++
		it, err := s.ProcessNews(ctx, raw)
		s.collect(res, i, it, err)
	}
	res.Counts.DurationMS = s.now().Sub(start).Milliseconds()
	s.observeBatch(signal.NamespaceNews, res.Counts)
	return res
}

// RunTVLBatch processes a slice of TVL observations.
func (s *Service) RunTVLBatch(ctx context.Context, points []signal.TVLPoint) *BatchResult {
	ctx, span := tracer.Start(ctx, "pipeline.RunTVLBatch")
	defer span.End()

	start := s.now()
	res := &BatchResult{}
	for i, p := range points {
		res.Counts.Ingested++
		it, err := s.ProcessTVL(ctx, p)
		s.collect(res, i, it, err)
	}
	res.Counts.DurationMS = s.now().Sub(start).Milliseconds()
	s.observeBatch(signal.NamespaceTVL, res.Counts)
	return res
}

func (s *Service) collect(res *BatchResult, idx int, it *triage.Item, err error) {
	switch {
	case err == nil:
		res.Items = append(res.Items, it)
		res.Counts.Deduped++
		switch it.Stage {
		case signal.StageStandby:
			res.Counts.Standby++
		case signal.StageEscalated:
			res.Counts.Escalated++
		}
	default:
		var dup *DuplicateError
		if errors.As(err, &dup) {
			// Rejections show up only in the sift_signals_duplicate_total
			// counter, not in the batch counts.
			return
		}
		res.Errors = append(res.Errors, BatchError{Index: idx, Message: err.Error()})
	}
}

func (s *Service) countIngested(ns signal.Namespace) {
	if s.metrics != nil {
		s.metrics.SignalsIngested.WithLabelValues(string(ns)).Inc()
	}
}

func (s *Service) countDuplicate(ns signal.Namespace) {
	if s.metrics != nil {
		s.metrics.SignalsDuplicate.WithLabelValues(string(ns)).Inc()
	}
}

func (s *Service) countStage(stage signal.Stage) {
	if s.metrics != nil {
		s.metrics.StageTransitions.WithLabelValues(string(stage)).Inc()
	}
}

func (s *Service) observeBatch(ns signal.Namespace, c Counts) {
	if s.metrics != nil {
		s.metrics.BatchDuration.WithLabelValues(string(ns)).Observe(float64(c.DurationMS) / 1000)
	}
}
