package postgres

import (
	"context"
	"database/sql"
	"errors"

	syncErrors "github.com/c0deZ3R0/go-telemetry-kit/errors"
	"github.com/c0deZ3R0/go-telemetry-kit/storage"
)

// Preferences is the preferences table view of a Store.
type Preferences struct {
	store *Store
}

var _ storage.Preferences = (*Preferences)(nil)

func (p *Preferences) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := p.store.checkOpen(syncErrors.OpLoad); err != nil {
		return nil, false, err
	}
	var value []byte
	err := p.store.db.QueryRowContext(ctx, `SELECT pref_value FROM preferences WHERE pref_key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	return value, true, nil
}

func (p *Preferences) Set(ctx context.Context, key string, value []byte) error {
	return p.store.withTx(ctx, syncErrors.OpStore, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO preferences (pref_key, pref_value, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (pref_key) DO UPDATE SET pref_value = EXCLUDED.pref_value, updated_at = NOW()`,
			key, value)
		return err
	})
}

func (p *Preferences) Delete(ctx context.Context, key string) error {
	return p.store.withTx(ctx, syncErrors.OpDelete, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM preferences WHERE pref_key = $1`, key)
		return err
	})
}
