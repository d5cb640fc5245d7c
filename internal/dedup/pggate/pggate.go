// Package pggate implements the dedup gate on PostgreSQL. A single upsert
// gives atomic set-if-absent across processes; rows expire by TTL so the
// keyspace stays bounded.
package pggate

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/sift/internal/signal"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sift/internal/dedup/pggate")

//go:embed schema.sql
var schema string

// Gate records fingerprints in the dedup_fingerprints table.
type Gate struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// New applies the schema and returns a ready gate. The pool is owned by
// the caller.
func New(ctx context.Context, pool *pgxpool.Pool, ttl time.Duration) (*Gate, error) {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply dedup schema: %w", err)
	}
	return &Gate{pool: pool, ttl: ttl}, nil
}

// The insert wins when the row is absent; the update wins when the
// existing row has expired, re-admitting the fingerprint. A live row
// matches neither arm, so no row comes back and the caller sees a
// duplicate.
const checkQuery = `
INSERT INTO dedup_fingerprints (namespace, fingerprint, expires_at)
VALUES ($1, $2, now() + $3)
ON CONFLICT (namespace, fingerprint) DO UPDATE
	SET expires_at = EXCLUDED.expires_at
	WHERE dedup_fingerprints.expires_at <= now()
RETURNING fingerprint`

// Check implements dedup.Gate.
func (g *Gate) Check(ctx context.Context, ns signal.Namespace, fp string) (bool, error) {
	ctx, span := tracer.Start(ctx, "pggate.Check", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("sift.dedup.namespace", string(ns)),
	))
	defer span.End()

	rows, err := g.pool.Query(ctx, checkQuery, string(ns), fp, g.ttl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("dedup check: %w", err)
	}
	defer rows.Close()

	isNew := rows.Next()
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("dedup check: %w", err)
	}

	span.SetAttributes(attribute.Bool("sift.dedup.is_new", isNew))
	return isNew, nil
}

// Sweep removes expired rows. Expiry is already enforced at check time;
// this just reclaims space and can run on any schedule.
func (g *Gate) Sweep(ctx context.Context) (int64, error) {
	tag, err := g.pool.Exec(ctx, `DELETE FROM dedup_fingerprints WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("dedup sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}
