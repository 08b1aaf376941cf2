package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/calloway-ai/switchboard/internal/store"
)

// EnqueueNotification implements [store.NotificationStore]. The partial
// unique index on (call_id, kind) for live rows makes duplicate enqueues a
// no-op.
func (s *Store) EnqueueNotification(ctx context.Context, n store.Notification) error {
	const q = `
		INSERT INTO notifications (call_id, kind, chat_id, state, next_attempt_at, payload)
		VALUES ($1, $2, $3, 'pending', $4, COALESCE($5, '{}'::jsonb))
		ON CONFLICT (call_id, kind) WHERE state IN ('pending', 'retrying')
		DO NOTHING`

	nextAttempt := n.NextAttemptAt
	if nextAttempt.IsZero() {
		nextAttempt = time.Now()
	}
	var payload any
	if len(n.Payload) > 0 {
		payload = n.Payload
	}

	if _, err := s.pool.Exec(ctx, q, n.CallID, n.Kind, n.ChatID, nextAttempt, payload); err != nil {
		return fmt.Errorf("postgres: enqueue notification: %w", err)
	}
	return nil
}

// DueNotifications implements [store.NotificationStore].
func (s *Store) DueNotifications(ctx context.Context, now time.Time, limit int) ([]store.Notification, error) {
	const q = `
		SELECT id, call_id, kind, chat_id, state, retry_count, next_attempt_at,
		       error_message, payload, created_at, updated_at
		FROM   notifications
		WHERE  state IN ('pending', 'retrying')
		  AND  next_attempt_at <= $1
		ORDER  BY created_at, id
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: due notifications: %w", err)
	}

	notifications, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Notification, error) {
		var (
			n     store.Notification
			state string
		)
		if err := row.Scan(
			&n.ID,
			&n.CallID,
			&n.Kind,
			&n.ChatID,
			&state,
			&n.RetryCount,
			&n.NextAttemptAt,
			&n.ErrorMessage,
			&n.Payload,
			&n.CreatedAt,
			&n.UpdatedAt,
		); err != nil {
			return store.Notification{}, err
		}
		n.State = store.NotificationState(state)
		return n, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan notifications: %w", err)
	}
	return notifications, nil
}

// MarkNotificationSent implements [store.NotificationStore].
func (s *Store) MarkNotificationSent(ctx context.Context, id int64) error {
	return s.markNotification(ctx, id,
		`UPDATE notifications SET state = 'sent', error_message = '', updated_at = now() WHERE id = $1`)
}

// MarkNotificationRetry implements [store.NotificationStore].
func (s *Store) MarkNotificationRetry(ctx context.Context, id int64, nextAttempt time.Time, errMsg string) error {
	const q = `
		UPDATE notifications SET
		    state           = 'retrying',
		    retry_count     = retry_count + 1,
		    next_attempt_at = $2,
		    error_message   = $3,
		    updated_at      = now()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id, nextAttempt, errMsg)
	if err != nil {
		return fmt.Errorf("postgres: mark notification retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// MarkNotificationFailed implements [store.NotificationStore].
func (s *Store) MarkNotificationFailed(ctx context.Context, id int64, errMsg string) error {
	const q = `
		UPDATE notifications SET
		    state         = 'failed',
		    error_message = $2,
		    updated_at    = now()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id, errMsg)
	if err != nil {
		return fmt.Errorf("postgres: mark notification failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) markNotification(ctx context.Context, id int64, q string) error {
	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("postgres: mark notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
