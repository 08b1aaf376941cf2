// Package postgres provides the PostgreSQL-backed implementation of the
// store interfaces. All tables share a single [pgxpool.Pool]; [Migrate] is
// idempotent and safe to run on every application start.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    id              TEXT         PRIMARY KEY,
    phone           TEXT         NOT NULL,
    direction       TEXT         NOT NULL DEFAULT 'outbound',
    prompt          TEXT         NOT NULL DEFAULT '',
    first_message   TEXT         NOT NULL DEFAULT '',
    chat_id         TEXT         NOT NULL DEFAULT '',
    started_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    answered_at     TIMESTAMPTZ,
    ended_at        TIMESTAMPTZ,
    duration_ns     BIGINT       NOT NULL DEFAULT 0,
    status          TEXT         NOT NULL DEFAULT 'initiated',
    voicemail       BOOLEAN      NOT NULL DEFAULT FALSE,
    error_code      TEXT         NOT NULL DEFAULT '',
    error_message   TEXT         NOT NULL DEFAULT '',
    summary         TEXT         NOT NULL DEFAULT '',
    last_otp_masked TEXT         NOT NULL DEFAULT '',
    digit_summary   TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_calls_status ON calls (status);
CREATE INDEX IF NOT EXISTS idx_calls_started_at ON calls (started_at);
`

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    id                BIGSERIAL    PRIMARY KEY,
    call_id           TEXT         NOT NULL,
    speaker           TEXT         NOT NULL,
    message           TEXT         NOT NULL,
    interaction_count INTEGER      NOT NULL DEFAULT 0,
    personality       TEXT         NOT NULL DEFAULT '',
    adaptation        JSONB        NOT NULL DEFAULT '{}',
    timestamp         TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_call_id
    ON transcripts (call_id, timestamp);
`

const ddlCallEvents = `
CREATE TABLE IF NOT EXISTS call_events (
    id        BIGSERIAL    PRIMARY KEY,
    call_id   TEXT         NOT NULL,
    kind      TEXT         NOT NULL,
    payload   JSONB        NOT NULL DEFAULT '{}',
    timestamp TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_call_events_call_id
    ON call_events (call_id, timestamp);
`

const ddlDigitEvents = `
CREATE TABLE IF NOT EXISTS digit_events (
    id         BIGSERIAL    PRIMARY KEY,
    call_id    TEXT         NOT NULL,
    source     TEXT         NOT NULL DEFAULT '',
    profile    TEXT         NOT NULL DEFAULT '',
    length     INTEGER      NOT NULL DEFAULT 0,
    accepted   BOOLEAN      NOT NULL DEFAULT FALSE,
    reason     TEXT         NOT NULL DEFAULT '',
    masked     TEXT         NOT NULL DEFAULT '',
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    timestamp  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_digit_events_call_id
    ON digit_events (call_id, timestamp);
`

const ddlNotifications = `
CREATE TABLE IF NOT EXISTS notifications (
    id              BIGSERIAL    PRIMARY KEY,
    call_id         TEXT         NOT NULL,
    kind            TEXT         NOT NULL,
    chat_id         TEXT         NOT NULL DEFAULT '',
    state           TEXT         NOT NULL DEFAULT 'pending',
    retry_count     INTEGER      NOT NULL DEFAULT 0,
    next_attempt_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
    error_message   TEXT         NOT NULL DEFAULT '',
    payload         JSONB        NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_live
    ON notifications (call_id, kind)
    WHERE state IN ('pending', 'retrying');

CREATE INDEX IF NOT EXISTS idx_notifications_due
    ON notifications (next_attempt_at)
    WHERE state IN ('pending', 'retrying');
`

// Migrate creates or ensures all required tables and indexes exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlCalls,
		ddlTranscripts,
		ddlCallEvents,
		ddlDigitEvents,
		ddlNotifications,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
