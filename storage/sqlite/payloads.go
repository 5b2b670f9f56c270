package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	syncErrors "github.com/c0deZ3R0/go-telemetry-kit/errors"
	"github.com/c0deZ3R0/go-telemetry-kit/storage"
)

// PayloadStore is the remote_payloads table view of a Store.
type PayloadStore struct {
	store *Store
}

var _ storage.PayloadStore = (*PayloadStore)(nil)

func (p *PayloadStore) ReadAll(ctx context.Context) ([]storage.PayloadRecord, error) {
	if err := p.store.checkOpen(syncErrors.OpLoad); err != nil {
		return nil, err
	}
	rows, err := p.store.db.QueryContext(ctx,
		`SELECT payload_type, payload_time, data, metadata FROM remote_payloads ORDER BY payload_type ASC`)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	defer rows.Close()

	var out []storage.PayloadRecord
	for rows.Next() {
		rec, err := scanPayload(rows)
		if err != nil {
			return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	return out, nil
}

func (p *PayloadStore) ReadByType(ctx context.Context, payloadType string) (storage.PayloadRecord, bool, error) {
	if err := p.store.checkOpen(syncErrors.OpLoad); err != nil {
		return storage.PayloadRecord{}, false, err
	}
	row := p.store.db.QueryRowContext(ctx,
		`SELECT payload_type, payload_time, data, metadata FROM remote_payloads WHERE payload_type = ?`, payloadType)
	rec, err := scanPayload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.PayloadRecord{}, false, nil
	}
	if err != nil {
		return storage.PayloadRecord{}, false, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	return rec, true, nil
}

func (p *PayloadStore) Write(ctx context.Context, rec storage.PayloadRecord) error {
	return p.Apply(ctx, []storage.PayloadRecord{rec}, nil)
}

func (p *PayloadStore) Apply(ctx context.Context, writes []storage.PayloadRecord, deletes []string) error {
	return p.store.withTx(ctx, syncErrors.OpStore, func(tx *sql.Tx) error {
		for _, typ := range deletes {
			if _, err := tx.ExecContext(ctx, `DELETE FROM remote_payloads WHERE payload_type = ?`, typ); err != nil {
				return err
			}
		}
		for _, rec := range writes {
			var metadata any
			if len(rec.Metadata) > 0 {
				metadata = string(rec.Metadata)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO remote_payloads (payload_type, payload_time, data, metadata, updated_at) VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`,
				rec.Type, rec.Timestamp.UTC().Format(time.RFC3339Nano), string(rec.Data), metadata,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayload(row rowScanner) (storage.PayloadRecord, error) {
	var (
		rec      storage.PayloadRecord
		ts       string
		data     string
		metadata sql.NullString
	)
	if err := row.Scan(&rec.Type, &ts, &data, &metadata); err != nil {
		return storage.PayloadRecord{}, err
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return storage.PayloadRecord{}, err
	}
	rec.Timestamp = parsed
	rec.Data = json.RawMessage(data)
	if metadata.Valid {
		rec.Metadata = json.RawMessage(metadata.String)
	}
	return rec, nil
}
