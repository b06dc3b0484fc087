package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTurns = `
CREATE TABLE IF NOT EXISTS clinic_turns (
    id           BIGSERIAL    PRIMARY KEY,
    session_id   TEXT         NOT NULL,
    seq          INTEGER      NOT NULL,
    speaker      TEXT         NOT NULL,
    text         TEXT         NOT NULL,
    node         TEXT         NOT NULL DEFAULT '',
    intent       TEXT         NOT NULL DEFAULT '',
    voice        BOOLEAN      NOT NULL DEFAULT false,
    provider     TEXT         NOT NULL DEFAULT '',
    latency_ns   BIGINT       NOT NULL DEFAULT 0,
    recorded_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_clinic_turns_session_seq
    ON clinic_turns (session_id, seq);

CREATE INDEX IF NOT EXISTS idx_clinic_turns_recorded_at
    ON clinic_turns (recorded_at);
`

// Migrate creates the archive table and its indexes if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTurns); err != nil {
		return fmt.Errorf("archive migrate: %w", err)
	}
	return nil
}
