package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type syncedEventRepo struct {
	pool *pgxpool.Pool
}

const eventColumns = `id, user_id, provider_event_id, title, description, location,
	start_time, end_time, is_public, created_by, created_at, updated_at, last_synced_at`

func (r *syncedEventRepo) ListWindow(ctx context.Context, userID string, from, to time.Time) ([]SyncedEvent, error) {
	defer observeDB(ctx, "events.list_window")()
	q := `SELECT ` + eventColumns + ` FROM synced_events
		WHERE user_id=$1 AND start_time >= $2 AND start_time <= $3
		ORDER BY start_time`
	rows, err := r.pool.Query(ctx, q, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []SyncedEvent
	for rows.Next() {
		var ev SyncedEvent
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.ProviderEventID, &ev.Title, &ev.Description,
			&ev.Location, &ev.StartTime, &ev.EndTime, &ev.IsPublic, &ev.CreatedBy,
			&ev.CreatedAt, &ev.UpdatedAt, &ev.LastSyncedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Upsert writes provider-owned fields. Local-only fields (is_public,
// created_by, created_at) are preserved on update; reconciliation must never
// overwrite them.
func (r *syncedEventRepo) Upsert(ctx context.Context, ev SyncedEvent) error {
	defer observeDB(ctx, "events.upsert")()
	q := `INSERT INTO synced_events
		(user_id, provider_event_id, title, description, location, start_time, end_time, is_public, created_by, last_synced_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
		ON CONFLICT (user_id, provider_event_id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			location = EXCLUDED.location,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			updated_at = NOW(),
			last_synced_at = NOW()`
	_, err := r.pool.Exec(ctx, q, ev.UserID, ev.ProviderEventID, ev.Title, ev.Description,
		ev.Location, ev.StartTime, ev.EndTime, ev.IsPublic, ev.CreatedBy)
	return err
}

func (r *syncedEventRepo) Delete(ctx context.Context, userID, providerEventID string) error {
	defer observeDB(ctx, "events.delete")()
	q := `DELETE FROM synced_events WHERE user_id=$1 AND provider_event_id=$2`
	_, err := r.pool.Exec(ctx, q, userID, providerEventID)
	return err
}
