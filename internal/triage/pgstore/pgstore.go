// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/sift/internal/signal"
	"github.com/linnemanlabs/sift/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sift/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists signal items, triage decisions, and alert records in
// PostgreSQL. The pool is owned by the caller.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const signalColumns = `id, fingerprint, namespace, source, title, summary, url, category,
	tickers, keywords, severity, stage, reason, published_at, created_at, updated_at`

// Put inserts or updates a signal item (upsert on id).
func (s *Store) Put(ctx context.Context, it *triage.Item) error {
	ctx, span := tracer.Start(ctx, "pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	tickersJSON, err := json.Marshal(emptyIfNil(it.Tickers))
	if err != nil {
		return fmt.Errorf("marshal tickers: %w", err)
	}
	keywordsJSON, err := json.Marshal(emptyIfNil(it.Keywords))
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}

	var publishedAt *time.Time
	if !it.PublishedAt.IsZero() {
		publishedAt = &it.PublishedAt
	}

	query := `INSERT INTO signals (
		id, fingerprint, namespace, source, title, summary, url, category,
		tickers, keywords, severity, stage, reason, published_at, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	ON CONFLICT (id) DO UPDATE SET
		severity   = EXCLUDED.severity,
		stage      = EXCLUDED.stage,
		reason     = EXCLUDED.reason,
		updated_at = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, query,
		it.ID, it.Fingerprint, string(it.Namespace), it.Source, it.Title, it.Summary,
		it.URL, it.Category, tickersJSON, keywordsJSON, string(it.Severity),
		string(it.Stage), it.Reason, publishedAt, it.CreatedAt, it.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert signal: %w", err)
	}
	return nil
}

// Get retrieves an item by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Item, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + signalColumns + ` FROM signals WHERE id = $1`
	it, err := scanItem(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if it == nil {
		return nil, false, nil
	}
	return it, true, nil
}

// GetByFingerprint retrieves the most recent item for a fingerprint within
// a namespace.
func (s *Store) GetByFingerprint(ctx context.Context, ns signal.Namespace, fp string) (*triage.Item, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetByFingerprint", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + signalColumns + ` FROM signals
		WHERE namespace = $1 AND fingerprint = $2
		ORDER BY created_at DESC LIMIT 1`
	it, err := scanItem(s.pool.QueryRow(ctx, query, string(ns), fp))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if it == nil {
		return nil, false, nil
	}
	return it, true, nil
}

// ListStandby returns items at the given stage, most recently updated first.
func (s *Store) ListStandby(ctx context.Context, stage signal.Stage, limit int) ([]*triage.Item, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListStandby", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + signalColumns + ` FROM signals
		WHERE stage = $1 ORDER BY updated_at DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, string(stage), limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query standby: %w", err)
	}
	defer rows.Close()

	var out []*triage.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate standby: %w", err)
	}
	return out, nil
}

// ListTriaged returns items with at least one decision, joined with their
// decisions, most recently updated first.
func (s *Store) ListTriaged(ctx context.Context, limit int) ([]*triage.TriagedItem, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListTriaged", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + signalColumns + ` FROM signals
		WHERE id IN (SELECT DISTINCT signal_id FROM triage_decisions)
		ORDER BY updated_at DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query triaged: %w", err)
	}
	defer rows.Close()

	var out []*triage.TriagedItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, &triage.TriagedItem{Item: it})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate triaged: %w", err)
	}

	for _, ti := range out {
		ds, err := s.DecisionsFor(ctx, ti.Item.ID)
		if err != nil {
			return nil, err
		}
		ti.Decisions = ds
	}
	return out, nil
}

// RecordDecision appends a triage decision for an item.
func (s *Store) RecordDecision(ctx context.Context, d *triage.Decision) error {
	ctx, span := tracer.Start(ctx, "pgstore.RecordDecision", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO triage_decisions (id, signal_id, outcome, notes, assignee, escalate_to, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.SignalID, string(d.Outcome), d.Notes, d.Assignee, d.EscalateTo, d.DecidedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// DecisionsFor returns decisions for an item, oldest first.
func (s *Store) DecisionsFor(ctx context.Context, signalID string) ([]*triage.Decision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, signal_id, outcome, notes, assignee, escalate_to, decided_at
		 FROM triage_decisions WHERE signal_id = $1 ORDER BY decided_at`,
		signalID,
	)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []*triage.Decision
	for rows.Next() {
		var (
			d       triage.Decision
			outcome string
		)
		if err := rows.Scan(&d.ID, &d.SignalID, &outcome, &d.Notes, &d.Assignee, &d.EscalateTo, &d.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.Outcome = triage.Outcome(outcome)
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return out, nil
}

// AppendAlert appends a delivered-alert record.
func (s *Store) AppendAlert(ctx context.Context, a *triage.AlertRecord) error {
	ctx, span := tracer.Start(ctx, "pgstore.AppendAlert", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	meta := a.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}

	var signalID *string
	if a.SignalID != "" {
		signalID = &a.SignalID
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO alerts (id, signal_id, severity, message, trace_id, meta, delivered, diagnostic, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, signalID, string(a.Severity), a.Message, a.TraceID, metaJSON, a.Delivered, a.Diagnostic, a.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// scanItem scans a single row into a triage.Item. Returns (nil, nil) when
// no row is found.
func scanItem(row pgx.Row) (*triage.Item, error) {
	var (
		it           triage.Item
		ns           string
		severity     string
		stage        string
		tickersJSON  []byte
		keywordsJSON []byte
		publishedAt  *time.Time
	)

	err := row.Scan(
		&it.ID, &it.Fingerprint, &ns, &it.Source, &it.Title, &it.Summary,
		&it.URL, &it.Category, &tickersJSON, &keywordsJSON, &severity,
		&stage, &it.Reason, &publishedAt, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan signal: %w", err)
	}

	it.Namespace = signal.Namespace(ns)
	it.Severity = signal.Severity(severity)
	it.Stage = signal.Stage(stage)
	if publishedAt != nil {
		it.PublishedAt = *publishedAt
	}
	if err := json.Unmarshal(tickersJSON, &it.Tickers); err != nil {
		return nil, fmt.Errorf("unmarshal tickers: %w", err)
	}
	if err := json.Unmarshal(keywordsJSON, &it.Keywords); err != nil {
		return nil, fmt.Errorf("unmarshal keywords: %w", err)
	}
	return &it, nil
}

func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
