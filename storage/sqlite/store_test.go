package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/go-telemetry-kit/errors"
	"github.com/c0deZ3R0/go-telemetry-kit/logging"
	"github.com/c0deZ3R0/go-telemetry-kit/storage"
	"github.com/c0deZ3R0/go-telemetry-kit/storage/storagetest"
)

func newMemoryStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(&Config{DataSourceName: ":memory:", Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEventQueueConformance(t *testing.T) {
	storagetest.RunEventQueue(t, func(t *testing.T) storage.EventQueue { return newMemoryStore(t).Events() })
}

func TestPayloadStoreConformance(t *testing.T) {
	storagetest.RunPayloadStore(t, func(t *testing.T) storage.PayloadStore { return newMemoryStore(t).Payloads() })
}

func TestPreferencesConformance(t *testing.T) {
	storagetest.RunPreferences(t, func(t *testing.T) storage.Preferences { return newMemoryStore(t).Preferences() })
}

func TestDataSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "telemetry.db")

	store, err := New(&Config{DataSourceName: path, EnableWAL: true, Logger: logging.Discard()})
	require.NoError(t, err)
	require.NoError(t, store.Events().Append(ctx, storagetest.Record("e1", 80)))
	require.NoError(t, store.Payloads().Write(ctx, storage.PayloadRecord{
		Type:      "config",
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Data:      json.RawMessage(`{"v":1}`),
	}))
	require.NoError(t, store.Preferences().Set(ctx, "enabled", []byte("true")))
	require.NoError(t, store.Close())

	// Reopening runs the migrations again, which must be a no-op.
	reopened, err := New(&Config{DataSourceName: path, EnableWAL: true, Logger: logging.Discard()})
	require.NoError(t, err)
	defer reopened.Close()

	recs, err := reopened.Events().ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "e1", recs[0].ID)

	payload, ok, err := reopened.Payloads().ReadByType(ctx, "config")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"v":1}`, string(payload.Data))

	v, ok, err := reopened.Preferences().Get(ctx, "enabled")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "true", string(v))
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	err := store.Events().Append(ctx, storagetest.Record("x", 50))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreClosed))
	assert.Equal(t, syncErrors.ErrCodeStorageFailure, syncErrors.CodeOf(err))

	_, err = store.Events().ReadAll(ctx)
	assert.True(t, errors.Is(err, ErrStoreClosed))
	_, _, err = store.Preferences().Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrStoreClosed))
}

func TestConfigDefaults(t *testing.T) {
	c := DefaultConfig("file:events.db")
	assert.Equal(t, "file:events.db?_journal_mode=WAL", c.DataSourceName)
	assert.Equal(t, 4, c.MaxOpenConns)

	c = DefaultConfig("file:events.db?cache=shared")
	assert.Equal(t, "file:events.db?cache=shared&_journal_mode=WAL", c.DataSourceName)

	c = DefaultConfig(":memory:")
	assert.Equal(t, ":memory:", c.DataSourceName)
	assert.Equal(t, 1, c.MaxOpenConns)

	_, err := New(&Config{})
	assert.Error(t, err)
	_, err = New(nil)
	assert.Error(t, err)
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store, err := NewWithDB(db, &Config{SkipMigrations: true, Logger: logging.Discard()})
	require.NoError(t, err)
	return store, mock
}

func TestDeleteByIDsRollsBackOnFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM events WHERE id IN (?,?)`)).
		WithArgs("a", "b").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err := store.Events().DeleteByIDs(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Equal(t, syncErrors.ErrCodeStorageFailure, syncErrors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPayloadsRollsBackOnFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM remote_payloads WHERE payload_type = ?`)).
		WithArgs("stale").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT OR REPLACE INTO remote_payloads`)).
		WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	err := store.Payloads().Apply(context.Background(),
		[]storage.PayloadRecord{{Type: "config", Timestamp: time.Now(), Data: json.RawMessage(`{}`)}},
		[]string{"stale"},
	)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendCommits(t *testing.T) {
	store, mock := newMockStore(t)
	rec := storagetest.Record("e1", 60)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO events`)).
		WithArgs(rec.ID, rec.Type, rec.Time, rec.Priority, rec.SessionID, string(rec.Body), rec.Size).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Events().Append(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByIDsChunksLargeLists(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)

	var ids []string
	for i := 0; i < deleteChunk+25; i++ {
		rec := storagetest.Record(time.Duration(i).String(), 40)
		ids = append(ids, rec.ID)
		require.NoError(t, store.Events().Append(ctx, rec))
	}
	require.NoError(t, store.Events().Append(ctx, storagetest.Record("keep", 40)))

	require.NoError(t, store.Events().DeleteByIDs(ctx, ids))
	recs, err := store.Events().ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "keep", recs[0].ID)
}
