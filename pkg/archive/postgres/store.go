// Package postgres stores the turn archive in a PostgreSQL clinic_turns
// table.
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.Append(ctx, records...)
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inchoate/argument-clinic/pkg/archive"
)

var turnColumns = []string{
	"session_id", "seq", "speaker", "text", "node", "intent",
	"voice", "provider", "latency_ns", "recorded_at",
}

// Store is the PostgreSQL-backed [archive.Store]. It is safe for concurrent
// use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Ping implements [archive.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("archive store: ping: %w", err)
	}
	return nil
}

// Append implements [archive.Store] with a single COPY, so a batch is stored
// entirely or not at all.
func (s *Store) Append(ctx context.Context, records ...archive.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([][]any, len(records))
	for i, r := range records {
		at := r.RecordedAt
		if at.IsZero() {
			at = time.Now()
		}
		rows[i] = []any{
			r.SessionID, r.Seq, r.Speaker, r.Text, r.Node, r.Intent,
			r.Voice, r.Provider, r.Latency.Nanoseconds(), at,
		}
	}
	if _, err := s.pool.CopyFrom(ctx, pgx.Identifier{"clinic_turns"}, turnColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("archive store: append %d records: %w", len(records), err)
	}
	return nil
}

// Session returns the archived turns of one session ordered by seq.
func (s *Store) Session(ctx context.Context, sessionID string) ([]archive.Record, error) {
	const q = `
		SELECT session_id, seq, speaker, text, node, intent, voice, provider, latency_ns, recorded_at
		FROM   clinic_turns
		WHERE  session_id = $1
		ORDER  BY seq, id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("archive store: query session: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (archive.Record, error) {
		var (
			r         archive.Record
			latencyNS int64
		)
		err := row.Scan(&r.SessionID, &r.Seq, &r.Speaker, &r.Text, &r.Node, &r.Intent,
			&r.Voice, &r.Provider, &latencyNS, &r.RecordedAt)
		r.Latency = time.Duration(latencyNS)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("archive store: scan session: %w", err)
	}
	return out, nil
}

var _ archive.Store = (*Store)(nil)
