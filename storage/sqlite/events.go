package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	syncErrors "github.com/c0deZ3R0/go-telemetry-kit/errors"
	"github.com/c0deZ3R0/go-telemetry-kit/storage"
)

// deleteChunk bounds the number of bound parameters per DELETE.
const deleteChunk = 500

// EventQueue is the events table view of a Store.
type EventQueue struct {
	store *Store
}

var _ storage.EventQueue = (*EventQueue)(nil)

func (q *EventQueue) Append(ctx context.Context, rec storage.EventRecord) error {
	return q.store.withTx(ctx, syncErrors.OpStore, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO events (id, event_type, event_time, priority, session_id, body, size) VALUES (?, ?, ?, ?, ?, ?, ?)`,
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

func (q *EventQueue) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return q.store.withTx(ctx, syncErrors.OpDelete, func(tx *sql.Tx) error {
		for start := 0; start < len(ids); start += deleteChunk {
			end := min(start+deleteChunk, len(ids))
			chunk := ids[start:end]
			args := make([]any, len(chunk))
			for i, id := range chunk {
				args[i] = id
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id IN (`+placeholders(len(chunk))+`)`, args...); err != nil {
				return err
			}
		}
		return nil
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

func (q *EventQueue) PruneToSize(ctx context.Context, maxBytes int64) (int, error) {
	removed := 0
	err := q.store.withTx(ctx, syncErrors.OpDelete, func(tx *sql.Tx) error {
		var total int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM events`).Scan(&total); err != nil {
			return err
		}
		if total <= maxBytes {
			return nil
		}

		rows, err := tx.QueryContext(ctx, `SELECT seq, size FROM events ORDER BY seq ASC`)
		if err != nil {
			return err
		}
		var cutoff int64 = -1
		for rows.Next() && total > maxBytes {
			var seq, size int64
			if err := rows.Scan(&seq, &size); err != nil {
				rows.Close()
				return err
			}
			total -= size
			cutoff = seq
			removed++
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if cutoff < 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM events WHERE seq <= ?`, cutoff)
		return err
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
