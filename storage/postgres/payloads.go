package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	syncErrors "github.com/c0deZ3R0/go-telemetry-kit/errors"
	"github.com/c0deZ3R0/go-telemetry-kit/storage"
)

// PayloadStore is the remote_payloads table view of a Store. Data and
// metadata are kept as JSONB, so reads return normalized JSON.
type PayloadStore struct {
	store *Store
}

var _ storage.PayloadStore = (*PayloadStore)(nil)

const selectPayloads = `SELECT payload_type, payload_time, data, metadata FROM remote_payloads`

func (p *PayloadStore) ReadAll(ctx context.Context) ([]storage.PayloadRecord, error) {
	if err := p.store.checkOpen(syncErrors.OpLoad); err != nil {
		return nil, err
	}
	rows, err := p.store.db.QueryContext(ctx, selectPayloads+` ORDER BY payload_type ASC`)
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
	rec, err := scanPayload(p.store.db.QueryRowContext(ctx, selectPayloads+` WHERE payload_type = $1`, payloadType))
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
		if len(deletes) > 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM remote_payloads WHERE payload_type = ANY($1)`, pq.Array(deletes)); err != nil {
				return err
			}
		}
		for _, rec := range writes {
			var metadata any
			if len(rec.Metadata) > 0 {
				metadata = string(rec.Metadata)
			}
			_, err := tx.ExecContext(ctx, `
INSERT INTO remote_payloads (payload_type, payload_time, data, metadata, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (payload_type) DO UPDATE
SET payload_time = EXCLUDED.payload_time, data = EXCLUDED.data, metadata = EXCLUDED.metadata, updated_at = NOW()`,
				rec.Type, rec.Timestamp.UTC(), string(rec.Data), metadata,
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
		ts       time.Time
		data     []byte
		metadata []byte
	)
	if err := row.Scan(&rec.Type, &ts, &data, &metadata); err != nil {
		return storage.PayloadRecord{}, err
	}
	rec.Timestamp = ts.UTC()
	rec.Data = json.RawMessage(data)
	if len(metadata) > 0 {
		rec.Metadata = json.RawMessage(metadata)
	}
	return rec, nil
}
