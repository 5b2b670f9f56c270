package main

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-telemetry-kit/analytics"
	"github.com/c0deZ3R0/go-telemetry-kit/logging"
)

const testFixture = `
app_keys: [app-key]
tuning:
  max_batch_kb: 100
  min_batch_interval_ms: 120000
payloads:
  - type: app_config
    timestamp: 2024-03-01T12:00:00Z
    data:
      enabled: true
  - type: messages
    language: de
    timestamp: 2024-03-01T12:00:00Z
    data:
      hello: hallo
`

func newTestServer(t *testing.T) (*server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f, err := ParseFixture([]byte(testFixture))
	require.NoError(t, err)
	s := newServer(f, logging.Discard())
	return s, s.router()
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUpload(t *testing.T) {
	s, r := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, analytics.UploadPath, bytes.NewBufferString(`[{"type":"a"},{"type":"b"}]`))
	w := do(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "100", w.Header().Get(analytics.HeaderMaxBatch))
	assert.Equal(t, "120000", w.Header().Get(analytics.HeaderMinBatchInterval))
	assert.Empty(t, w.Header().Get(analytics.HeaderMaxTotal))
	assert.Equal(t, 1, s.batches)
	assert.Equal(t, 2, s.events)
}

func TestUpload_Gzip(t *testing.T) {
	s, r := newTestServer(t)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(`[{"type":"a"}]`))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	req := httptest.NewRequest(http.MethodPost, analytics.UploadPath, &buf)
	req.Header.Set("Content-Encoding", "gzip")
	w := do(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, s.events)
}

func TestUpload_BadBodies(t *testing.T) {
	_, r := newTestServer(t)

	for _, body := range []string{`{}`, `[]`, `not json`} {
		w := do(r, httptest.NewRequest(http.MethodPost, analytics.UploadPath, bytes.NewBufferString(body)))
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}

	req := httptest.NewRequest(http.MethodPost, analytics.UploadPath, bytes.NewBufferString(`[{}]`))
	req.Header.Set("Content-Encoding", "gzip")
	assert.Equal(t, http.StatusBadRequest, do(r, req).Code)
}

func TestRemoteData(t *testing.T) {
	_, r := newTestServer(t)

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/remote-data/app/app-key/android?language=en", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Payloads []wirePayload `json:"payloads"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Payloads, 1)
	assert.Equal(t, "app_config", resp.Payloads[0].Type)
	assert.Equal(t, "2024-03-01T12:00:00.000", resp.Payloads[0].Timestamp)
	assert.JSONEq(t, `{"enabled":true}`, string(resp.Payloads[0].Data))

	w = do(r, httptest.NewRequest(http.MethodGet, "/api/remote-data/app/app-key/android?language=de", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Payloads, 2)
}

func TestRemoteData_NotModified(t *testing.T) {
	s, r := newTestServer(t)

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/remote-data/app/app-key/ios", nil))
	require.Equal(t, http.StatusOK, w.Code)
	lastModified := w.Header().Get("Last-Modified")
	require.NotEmpty(t, lastModified)

	req := httptest.NewRequest(http.MethodGet, "/api/remote-data/app/app-key/ios", nil)
	req.Header.Set("If-Modified-Since", lastModified)
	assert.Equal(t, http.StatusNotModified, do(r, req).Code)

	s.setFixture(s.fixture)
	req = httptest.NewRequest(http.MethodGet, "/api/remote-data/app/app-key/ios", nil)
	req.Header.Set("If-Modified-Since", lastModified)
	w = do(r, req)
	assert.Equal(t, http.StatusOK, w.Code)

	next, err := http.ParseTime(w.Header().Get("Last-Modified"))
	require.NoError(t, err)
	prev, err := http.ParseTime(lastModified)
	require.NoError(t, err)
	assert.True(t, next.After(prev))
}

func TestRemoteData_UnknownKey(t *testing.T) {
	_, r := newTestServer(t)
	w := do(r, httptest.NewRequest(http.MethodGet, "/api/remote-data/app/other/ios", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestParseFixture(t *testing.T) {
	f, err := ParseFixture([]byte(testFixture))
	require.NoError(t, err)
	assert.Equal(t, []string{"app-key"}, f.AppKeys)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), f.Payloads[0].Timestamp.UTC())
	assert.True(t, f.allowsKey("app-key"))
	assert.False(t, f.allowsKey("other"))

	_, err = ParseFixture([]byte("payloads:\n  - data: {}\n"))
	assert.Error(t, err)

	empty := &Fixture{}
	assert.True(t, empty.allowsKey("anything"))
}
