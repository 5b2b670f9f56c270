package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"os"
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

// dsnEnv names a scratch database for the conformance tests. Its tables
// are truncated before every case.
const dsnEnv = "TELEMETRYKIT_POSTGRES_DSN"

func newLiveStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}
	store, err := New(&Config{ConnectionString: dsn, Logger: logging.Discard()})
	require.NoError(t, err)
	_, err = store.db.Exec(`TRUNCATE events, remote_payloads, preferences`)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEventQueueConformance(t *testing.T) {
	storagetest.RunEventQueue(t, func(t *testing.T) storage.EventQueue { return newLiveStore(t).Events() })
}

func TestPayloadStoreConformance(t *testing.T) {
	storagetest.RunPayloadStore(t, func(t *testing.T) storage.PayloadStore { return newLiveStore(t).Payloads() })
}

func TestPreferencesConformance(t *testing.T) {
	storagetest.RunPreferences(t, func(t *testing.T) storage.Preferences { return newLiveStore(t).Preferences() })
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store, err := NewWithDB(db, &Config{SkipMigrations: true, Logger: logging.Discard()})
	require.NoError(t, err)
	return store, mock
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

func TestDeleteByIDsUsesArrayParameter(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM events WHERE id = ANY($1)`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, store.Events().DeleteByIDs(context.Background(), []string{"a", "b"}))
	require.NoError(t, store.Events().DeleteByIDs(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByIDsRollsBackOnFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM events`)).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.Events().DeleteByIDs(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Equal(t, syncErrors.ErrCodeStorageFailure, syncErrors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPruneToSizeReportsRemoved(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`LOCK TABLE events`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM events WHERE seq <=`)).
		WithArgs(int64(1024)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	removed, err := store.Events().PruneToSize(context.Background(), 1024)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPayloadsUpserts(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM remote_payloads WHERE payload_type = ANY($1)`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (payload_type) DO UPDATE`)).
		WithArgs("config", ts, `{"a":1}`, `{"locale":"en-US"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO remote_payloads`)).
		WithArgs("plain", ts, `[]`, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Payloads().Apply(context.Background(),
		[]storage.PayloadRecord{
			{Type: "config", Timestamp: ts, Data: json.RawMessage(`{"a":1}`), Metadata: json.RawMessage(`{"locale":"en-US"}`)},
			{Type: "plain", Timestamp: ts, Data: json.RawMessage(`[]`)},
		},
		[]string{"stale"},
	)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadByType(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE payload_type = $1`)).
		WithArgs("config").
		WillReturnRows(sqlmock.NewRows([]string{"payload_type", "payload_time", "data", "metadata"}).
			AddRow("config", ts, []byte(`{"a": 1}`), nil))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE payload_type = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"payload_type", "payload_time", "data", "metadata"}))

	rec, ok, err := store.Payloads().ReadByType(context.Background(), "config")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ts.Equal(rec.Timestamp))
	assert.JSONEq(t, `{"a":1}`, string(rec.Data))
	assert.Nil(t, rec.Metadata)

	_, ok, err = store.Payloads().ReadByType(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreferencesSetUpserts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (pref_key) DO UPDATE`)).
		WithArgs("enabled", []byte("true")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Preferences().Set(context.Background(), "enabled", []byte("true")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectClose()
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	err := store.Events().Append(context.Background(), storagetest.Record("x", 50))
	assert.True(t, errors.Is(err, ErrStoreClosed))
	assert.Equal(t, syncErrors.ErrCodeStorageFailure, syncErrors.CodeOf(err))
	_, err = store.Payloads().ReadAll(context.Background())
	assert.True(t, errors.Is(err, ErrStoreClosed))
	_, _, err = store.Preferences().Get(context.Background(), "k")
	assert.True(t, errors.Is(err, ErrStoreClosed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfig(t *testing.T) {
	c := DefaultConfig("postgres://localhost/telemetry")
	assert.Equal(t, 25, c.MaxOpenConns)
	assert.Equal(t, 10, c.MaxIdleConns)
	assert.Equal(t, time.Hour, c.ConnMaxLifetime)

	_, err := New(&Config{})
	assert.Error(t, err)
	_, err = New(nil)
	assert.Error(t, err)
	_, err = NewWithDB(nil, nil)
	assert.Error(t, err)
}

func TestMaskConnectionString(t *testing.T) {
	masked := maskConnectionString("postgres://kit:secret@db:5432/telemetry?sslmode=disable")
	assert.NotContains(t, masked, "secret")
	assert.Contains(t, masked, "kit:")
	assert.Contains(t, masked, "@db:5432/telemetry?sslmode=disable")
	assert.Equal(t, "host=db user=kit password=*** dbname=telemetry",
		maskConnectionString("host=db user=kit password=secret dbname=telemetry"))
	assert.Equal(t, "postgres://db/telemetry", maskConnectionString("postgres://db/telemetry"))
}
