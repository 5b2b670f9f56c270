package analytics

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/go-telemetry-kit/errors"
	"github.com/c0deZ3R0/go-telemetry-kit/storage"
	"github.com/c0deZ3R0/go-telemetry-kit/transport"
)

// records builds n queue records whose bodies are exactly bodySize bytes.
func records(n, bodySize int) []storage.EventRecord {
	out := make([]storage.EventRecord, n)
	for i := range out {
		pad := bodySize - len(`{"n":,"p":""}`) - len(fmt.Sprint(i))
		body := fmt.Sprintf(`{"n":%d,"p":"%s"}`, i, strings.Repeat("x", max(pad, 0)))
		out[i] = storage.EventRecord{ID: fmt.Sprintf("e%d", i), Body: json.RawMessage(body), Size: len(body)}
	}
	return out
}

func TestBuildBatch(t *testing.T) {
	t.Run("everything fits", func(t *testing.T) {
		b := buildBatch(records(3, 20), 10, 1000)
		assert.Equal(t, []string{"e0", "e1", "e2"}, b.ids)
		assert.False(t, b.overflow)
		var arr []json.RawMessage
		require.NoError(t, json.Unmarshal(b.body, &arr))
		assert.Len(t, arr, 3)
		assert.Contains(t, b.id, "batch-")
	})

	t.Run("event count limit", func(t *testing.T) {
		b := buildBatch(records(5, 20), 2, 1000)
		assert.Equal(t, []string{"e0", "e1"}, b.ids)
		assert.True(t, b.overflow)
	})

	t.Run("byte limit keeps oldest", func(t *testing.T) {
		b := buildBatch(records(5, 100), 10, 250)
		assert.Equal(t, []string{"e0", "e1"}, b.ids)
		assert.True(t, b.overflow)
		assert.LessOrEqual(t, len(b.body), 250)
	})

	t.Run("first event always taken", func(t *testing.T) {
		b := buildBatch(records(2, 400), 10, 100)
		assert.Equal(t, []string{"e0"}, b.ids)
		assert.True(t, b.overflow)
	})
}

func TestParseTunedLimits(t *testing.T) {
	h := http.Header{}
	_, ok := parseTunedLimits(h)
	assert.False(t, ok)

	h.Set(HeaderMaxTotal, "2048")
	h.Set(HeaderMaxBatch, "100")
	h.Set(HeaderMinBatchInterval, "120000")
	got, ok := parseTunedLimits(h)
	require.True(t, ok)
	assert.Equal(t, TunedLimits{MaxTotalBytes: 2048 * 1024, MaxBatchBytes: 100 * 1024, MinBatchInterval: 2 * time.Minute}, got)

	h.Set(HeaderMaxTotal, "999999")
	h.Set(HeaderMaxBatch, "1")
	h.Set(HeaderMinBatchInterval, "5")
	got, ok = parseTunedLimits(h)
	require.True(t, ok)
	assert.Equal(t, int64(maxTunedTotalBytes), got.MaxTotalBytes)
	assert.Equal(t, minTunedBatchBytes, got.MaxBatchBytes)
	assert.Equal(t, minTunedInterval, got.MinBatchInterval)
}

func TestParseTunedLimitsHugeValues(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderMaxTotal, "9223372036854775807")
	h.Set(HeaderMaxBatch, "9007199254740993")
	h.Set(HeaderMinBatchInterval, "9223372036854775807")
	got, ok := parseTunedLimits(h)
	require.True(t, ok)
	assert.Equal(t, int64(maxTunedTotalBytes), got.MaxTotalBytes)
	assert.Equal(t, maxTunedBatchBytes, got.MaxBatchBytes)
	assert.Equal(t, maxTunedInterval, got.MinBatchInterval)

	h.Set(HeaderMaxTotal, "-9223372036854775808")
	h.Set(HeaderMaxBatch, "-9007199254740993")
	got, ok = parseTunedLimits(h)
	require.True(t, ok)
	assert.Equal(t, int64(minTunedTotalBytes), got.MaxTotalBytes)
	assert.Equal(t, minTunedBatchBytes, got.MaxBatchBytes)
}

func TestClassifyUpload(t *testing.T) {
	assert.NoError(t, classifyUpload(&transport.Response{StatusCode: 200}, nil))
	assert.NoError(t, classifyUpload(&transport.Response{StatusCode: 204}, nil))

	perm := classifyUpload(&transport.Response{StatusCode: 400}, nil)
	assert.True(t, syncErrors.IsPermanent(perm))
	code, ok := syncErrors.StatusCode(perm)
	require.True(t, ok)
	assert.Equal(t, 400, code)

	assert.True(t, syncErrors.IsTransient(classifyUpload(&transport.Response{StatusCode: 503}, nil)))
	assert.True(t, syncErrors.IsTransient(classifyUpload(nil, errors.New("connection reset"))))
	assert.True(t, syncErrors.IsTransient(classifyUpload(nil, nil)))

	netErr := syncErrors.NewNetworkError(syncErrors.OpTransport, errors.New("timeout"))
	assert.Same(t, netErr, classifyUpload(nil, netErr))
}
