package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/calloway-ai/switchboard/internal/store"
)

// CreateCall implements [store.CallStore].
func (s *Store) CreateCall(ctx context.Context, rec store.CallRecord) error {
	const q = `
		INSERT INTO calls
		    (id, phone, direction, prompt, first_message, chat_id, started_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	startedAt := rec.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	status := rec.Status
	if status == "" {
		status = "initiated"
	}

	_, err := s.pool.Exec(ctx, q,
		rec.ID,
		rec.Phone,
		rec.Direction,
		rec.Prompt,
		rec.FirstMessage,
		rec.ChatID,
		startedAt,
		status,
	)
	if err != nil {
		return fmt.Errorf("postgres: create call: %w", err)
	}
	return nil
}

// GetCall implements [store.CallStore].
func (s *Store) GetCall(ctx context.Context, callID string) (store.CallRecord, error) {
	const q = `
		SELECT id, phone, direction, prompt, first_message, chat_id,
		       started_at, answered_at, ended_at, duration_ns,
		       status, voicemail, error_code, error_message,
		       summary, last_otp_masked, digit_summary
		FROM   calls
		WHERE  id = $1`

	var (
		rec        store.CallRecord
		durationNS int64
	)
	err := s.pool.QueryRow(ctx, q, callID).Scan(
		&rec.ID,
		&rec.Phone,
		&rec.Direction,
		&rec.Prompt,
		&rec.FirstMessage,
		&rec.ChatID,
		&rec.StartedAt,
		&rec.AnsweredAt,
		&rec.EndedAt,
		&durationNS,
		&rec.Status,
		&rec.VoicemailDetected,
		&rec.ErrorCode,
		&rec.ErrorMessage,
		&rec.Summary,
		&rec.LastOTPMasked,
		&rec.DigitSummary,
	)
	if err != nil {
		if isNoRows(err) {
			return store.CallRecord{}, store.ErrNotFound
		}
		return store.CallRecord{}, fmt.Errorf("postgres: get call: %w", err)
	}
	rec.Duration = time.Duration(durationNS)
	return rec, nil
}

// UpdateCallStatus implements [store.CallStore]. Answer and end timestamps
// are only ever set forward, never cleared.
func (s *Store) UpdateCallStatus(ctx context.Context, rec store.CallRecord) error {
	const q = `
		UPDATE calls SET
		    status        = $2,
		    voicemail     = $3,
		    answered_at   = COALESCE(answered_at, $4),
		    ended_at      = COALESCE(ended_at, $5),
		    duration_ns   = GREATEST(duration_ns, $6),
		    error_code    = CASE WHEN $7 <> '' THEN $7 ELSE error_code END,
		    error_message = CASE WHEN $8 <> '' THEN $8 ELSE error_message END
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q,
		rec.ID,
		rec.Status,
		rec.VoicemailDetected,
		rec.AnsweredAt,
		rec.EndedAt,
		rec.Duration.Nanoseconds(),
		rec.ErrorCode,
		rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("postgres: update call status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SetCallSummary implements [store.CallStore].
func (s *Store) SetCallSummary(ctx context.Context, callID, summary, lastOTPMasked, digitSummary string) error {
	const q = `
		UPDATE calls SET
		    summary         = $2,
		    last_otp_masked = $3,
		    digit_summary   = $4
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, callID, summary, lastOTPMasked, digitSummary)
	if err != nil {
		return fmt.Errorf("postgres: set call summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
