package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/calloway-ai/switchboard/internal/store"
)

// AppendTranscript implements [store.TranscriptStore].
func (s *Store) AppendTranscript(ctx context.Context, entry store.TranscriptEntry) error {
	const q = `
		INSERT INTO transcripts
		    (call_id, speaker, message, interaction_count, personality, adaptation, timestamp)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, '{}'::jsonb), $7)`

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var adaptation any
	if len(entry.Adaptation) > 0 {
		adaptation = entry.Adaptation
	}

	_, err := s.pool.Exec(ctx, q,
		entry.CallID,
		string(entry.Speaker),
		entry.Message,
		entry.InteractionCount,
		entry.Personality,
		adaptation,
		ts,
	)
	if err != nil {
		return fmt.Errorf("postgres: append transcript: %w", err)
	}
	return nil
}

// ListTranscripts implements [store.TranscriptStore].
func (s *Store) ListTranscripts(ctx context.Context, callID string) ([]store.TranscriptEntry, error) {
	const q = `
		SELECT call_id, speaker, message, interaction_count, personality, adaptation, timestamp
		FROM   transcripts
		WHERE  call_id = $1
		ORDER  BY timestamp, id`

	rows, err := s.pool.Query(ctx, q, callID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transcripts: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.TranscriptEntry, error) {
		var (
			e       store.TranscriptEntry
			speaker string
		)
		if err := row.Scan(
			&e.CallID,
			&speaker,
			&e.Message,
			&e.InteractionCount,
			&e.Personality,
			&e.Adaptation,
			&e.Timestamp,
		); err != nil {
			return store.TranscriptEntry{}, err
		}
		e.Speaker = store.Speaker(speaker)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan transcripts: %w", err)
	}
	if entries == nil {
		entries = []store.TranscriptEntry{}
	}
	return entries, nil
}

// AppendEvent implements [store.EventStore].
func (s *Store) AppendEvent(ctx context.Context, ev store.CallEvent) error {
	const q = `
		INSERT INTO call_events (call_id, kind, payload, timestamp)
		VALUES ($1, $2, COALESCE($3, '{}'::jsonb), $4)`

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var payload any
	if len(ev.Payload) > 0 {
		payload = ev.Payload
	}

	if _, err := s.pool.Exec(ctx, q, ev.CallID, ev.Kind, payload, ts); err != nil {
		return fmt.Errorf("postgres: append event: %w", err)
	}
	return nil
}

// AppendDigitEvent implements [store.EventStore]. Callers are responsible for
// never placing raw digits in the Masked field when compliance mode is safe.
func (s *Store) AppendDigitEvent(ctx context.Context, ev store.DigitEvent) error {
	const q = `
		INSERT INTO digit_events
		    (call_id, source, profile, length, accepted, reason, masked, confidence, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.pool.Exec(ctx, q,
		ev.CallID,
		ev.Source,
		ev.Profile,
		ev.Length,
		ev.Accepted,
		ev.Reason,
		ev.Masked,
		ev.Confidence,
		ts,
	)
	if err != nil {
		return fmt.Errorf("postgres: append digit event: %w", err)
	}
	return nil
}
