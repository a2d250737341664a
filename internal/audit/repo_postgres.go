package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"call-signaling/pkg/utils"
)

// PostgresRepo stores events in the call_events table.
type PostgresRepo struct {
	DB *sql.DB
}

const insertEventSQL = `
INSERT INTO call_events (
	id, call_id, type, caller_id, participant_id, call_type,
	actor_user_id, reason, duration_seconds, metadata, occurred_at, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// Append inserts the batch in a single transaction.
func (r *PostgresRepo) Append(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	return utils.WithTx(ctx, r.DB, nil, func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertEventSQL)
		if err != nil {
			return fmt.Errorf("audit: prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range events {
			if _, err := stmt.ExecContext(ctx,
				e.ID, e.CallID, string(e.Type), e.CallerID, e.ParticipantID, e.CallType,
				nullable(e.ActorUserID), nullable(e.Reason), e.DurationSeconds, nullable(e.Metadata),
				e.OccurredAt, e.CreatedAt,
			); err != nil {
				return fmt.Errorf("audit: insert %s: %w", e.CallID, err)
			}
		}
		return nil
	})
}

const listEventsSQL = `
SELECT id, call_id, type, caller_id, participant_id, call_type,
	COALESCE(actor_user_id, ''), COALESCE(reason, ''), duration_seconds,
	COALESCE(metadata::text, ''), occurred_at, created_at
FROM call_events
WHERE occurred_at >= $1 AND occurred_at < $2
ORDER BY occurred_at, created_at`

func (r *PostgresRepo) ListEvents(ctx context.Context, from, to time.Time) ([]Event, error) {
	rows, err := r.DB.QueryContext(ctx, listEventsSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("audit: list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var typ string
		if err := rows.Scan(
			&e.ID, &e.CallID, &typ, &e.CallerID, &e.ParticipantID, &e.CallType,
			&e.ActorUserID, &e.Reason, &e.DurationSeconds,
			&e.Metadata, &e.OccurredAt, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
