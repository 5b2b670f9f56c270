package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"

	syncErrors "github.com/c0deZ3R0/go-telemetry-kit/errors"
	"github.com/c0deZ3R0/go-telemetry-kit/storage"
)

// EventQueue is the events table view of a Store.
type EventQueue struct {
	store *Store
}

var _ storage.EventQueue = (*EventQueue)(nil)

func (q *EventQueue) Append(ctx context.Context, rec storage.EventRecord) error {
	return q.store.withTx(ctx, syncErrors.OpStore, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO events (id, event_type, event_time, priority, session_id, body, size) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rec.ID, rec.Type, rec.Time, rec.Priority, rec.SessionID, string(rec.Body), rec.Size,
		)
		return err
	})
}

func (q *EventQueue) ReadAll(ctx context.Context) ([]storage.EventRecord, error) {
	if err := q.store.checkOpen(syncErrors.OpLoad); err != nil {
		return nil, err
	}
	rows, err := q.store.db.QueryContext(ctx,
		`SELECT id, event_type, event_time, priority, session_id, body, size FROM events ORDER BY seq ASC`)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	defer rows.Close()

	var out []storage.EventRecord
	for rows.Next() {
		var (
			rec  storage.EventRecord
			body string
		)
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.Time, &rec.Priority, &rec.SessionID, &body, &rec.Size); err != nil {
			return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
		}
		rec.Body = json.RawMessage(body)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	return out, nil
}

// DeleteByIDs binds ids as one text[] parameter, so list length is unbounded.
func (q *EventQueue) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return q.store.withTx(ctx, syncErrors.OpDelete, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ANY($1)`, pq.Array(ids))
		return err
	})
}

func (q *EventQueue) DeleteAll(ctx context.Context) error {
	return q.store.withTx(ctx, syncErrors.OpDelete, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM events`)
		return err
	})
}

func (q *EventQueue) Stats(ctx context.Context) (storage.QueueStats, error) {
	if err := q.store.checkOpen(syncErrors.OpLoad); err != nil {
		return storage.QueueStats{}, err
	}
	var stats storage.QueueStats
	err := q.store.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM events`).
		Scan(&stats.Count, &stats.Bytes)
	if err != nil {
		return storage.QueueStats{}, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	return stats, nil
}

// PruneToSize finds the cutoff with a running total over seq order and
// deletes everything at or below it in the same transaction.
func (q *EventQueue) PruneToSize(ctx context.Context, maxBytes int64) (int, error) {
	removed := 0
	err := q.store.withTx(ctx, syncErrors.OpDelete, func(tx *sql.Tx) error {
		// Lock out concurrent appenders from other processes.
		if _, err := tx.ExecContext(ctx, `LOCK TABLE events IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
DELETE FROM events WHERE seq <= (
    SELECT COALESCE(MAX(seq), -1) FROM (
        SELECT seq, SUM(size) OVER (ORDER BY seq DESC) AS tail
        FROM events
    ) t WHERE t.tail > $1
)`, maxBytes)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
