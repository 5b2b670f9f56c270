// Package storagetest holds conformance tests shared by every storage
// implementation.
package storagetest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-telemetry-kit/storage"
)

// Record builds an EventRecord with a body of roughly size bytes.
func Record(id string, size int) storage.EventRecord {
	pad := size - len(id) - 20
	if pad < 0 {
		pad = 0
	}
	body := fmt.Sprintf(`{"event_id":%q,"p":%q}`, id, strings.Repeat("x", pad))
	return storage.EventRecord{
		ID:       id,
		Type:     "custom",
		Time:     "1700000000.000",
		Priority: 1,
		Body:     json.RawMessage(body),
		Size:     len(body),
	}
}

func ids(recs []storage.EventRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

// RunEventQueue exercises an EventQueue implementation.
func RunEventQueue(t *testing.T, newQueue func(t *testing.T) storage.EventQueue) {
	ctx := context.Background()

	t.Run("AppendPreservesInsertionOrder", func(t *testing.T) {
		q := newQueue(t)
		for _, id := range []string{"c", "a", "b"} {
			require.NoError(t, q.Append(ctx, Record(id, 64)))
		}
		recs, err := q.ReadAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "a", "b"}, ids(recs))
		assert.JSONEq(t, string(Record("a", 64).Body), string(recs[1].Body))
	})

	t.Run("DeleteByIDsRemovesOnlyThose", func(t *testing.T) {
		q := newQueue(t)
		for _, id := range []string{"1", "2", "3", "4"} {
			require.NoError(t, q.Append(ctx, Record(id, 64)))
		}
		require.NoError(t, q.DeleteByIDs(ctx, []string{"2", "4", "missing"}))
		recs, err := q.ReadAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "3"}, ids(recs))

		require.NoError(t, q.DeleteByIDs(ctx, nil))
		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Count)
	})

	t.Run("StatsAndDeleteAll", func(t *testing.T) {
		q := newQueue(t)
		a, b := Record("a", 100), Record("b", 200)
		require.NoError(t, q.Append(ctx, a))
		require.NoError(t, q.Append(ctx, b))

		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Count)
		assert.Equal(t, int64(a.Size+b.Size), stats.Bytes)

		require.NoError(t, q.DeleteAll(ctx))
		stats, err = q.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.Count)
		assert.Zero(t, stats.Bytes)
	})

	t.Run("PruneToSizeDropsOldestFirst", func(t *testing.T) {
		q := newQueue(t)
		var sizes []int
		for _, id := range []string{"old", "mid", "new"} {
			rec := Record(id, 100)
			sizes = append(sizes, rec.Size)
			require.NoError(t, q.Append(ctx, rec))
		}
		removed, err := q.PruneToSize(ctx, int64(sizes[1]+sizes[2]))
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		recs, err := q.ReadAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"mid", "new"}, ids(recs))

		removed, err = q.PruneToSize(ctx, 1<<20)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}

// RunPayloadStore exercises a PayloadStore implementation.
func RunPayloadStore(t *testing.T, newStore func(t *testing.T) storage.PayloadStore) {
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("WriteAndReadByType", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.ReadByType(ctx, "config")
		require.NoError(t, err)
		assert.False(t, ok)

		rec := storage.PayloadRecord{
			Type:      "config",
			Timestamp: ts,
			Data:      json.RawMessage(`{"flag":true}`),
			Metadata:  json.RawMessage(`{"locale":"en-US"}`),
		}
		require.NoError(t, s.Write(ctx, rec))

		got, ok, err := s.ReadByType(ctx, "config")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "config", got.Type)
		assert.True(t, ts.Equal(got.Timestamp))
		assert.JSONEq(t, `{"flag":true}`, string(got.Data))
		assert.JSONEq(t, `{"locale":"en-US"}`, string(got.Metadata))
	})

	t.Run("WriteReplacesWholesale", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Write(ctx, storage.PayloadRecord{Type: "config", Timestamp: ts, Data: json.RawMessage(`{"a":1,"b":2}`)}))
		require.NoError(t, s.Write(ctx, storage.PayloadRecord{Type: "config", Timestamp: ts.Add(time.Hour), Data: json.RawMessage(`{"c":3}`)}))

		got, ok, err := s.ReadByType(ctx, "config")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"c":3}`, string(got.Data))
	})

	t.Run("ApplyWritesAndDeletes", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Write(ctx, storage.PayloadRecord{Type: "old", Timestamp: ts, Data: json.RawMessage(`1`)}))
		require.NoError(t, s.Apply(ctx,
			[]storage.PayloadRecord{
				{Type: "b", Timestamp: ts, Data: json.RawMessage(`"b"`)},
				{Type: "a", Timestamp: ts, Data: json.RawMessage(`"a"`)},
			},
			[]string{"old"},
		))

		all, err := s.ReadAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "a", all[0].Type)
		assert.Equal(t, "b", all[1].Type)
	})
}

// RunPreferences exercises a Preferences implementation.
func RunPreferences(t *testing.T, newPrefs func(t *testing.T) storage.Preferences) {
	ctx := context.Background()

	t.Run("SetGetDelete", func(t *testing.T) {
		p := newPrefs(t)
		_, ok, err := p.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, p.Set(ctx, "k", []byte("v1")))
		require.NoError(t, p.Set(ctx, "k", []byte("v2")))
		v, ok, err := p.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "v2", string(v))

		require.NoError(t, p.Delete(ctx, "k"))
		_, ok, err = p.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("TypedHelpers", func(t *testing.T) {
		p := newPrefs(t)
		now := time.Unix(1700000000, 123456789)
		require.NoError(t, storage.SetTime(ctx, p, "last_send", now))
		got, err := storage.GetTime(ctx, p, "last_send")
		require.NoError(t, err)
		assert.True(t, now.Equal(got))
		assert.Equal(t, time.UTC, got.Location())

		missing, err := storage.GetTime(ctx, p, "never")
		require.NoError(t, err)
		assert.True(t, missing.IsZero())

		require.NoError(t, storage.SetJSON(ctx, p, "ids", map[string]string{"crm": "42"}))
		var ids map[string]string
		ok, err := storage.GetJSON(ctx, p, "ids", &ids)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "42", ids["crm"])
	})
}
