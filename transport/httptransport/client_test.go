package httptransport

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/go-telemetry-kit/errors"
	"github.com/c0deZ3R0/go-telemetry-kit/logging"
	"github.com/c0deZ3R0/go-telemetry-kit/transport"
)

func gzipString(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func TestExecuteCompressesLargeBodies(t *testing.T) {
	payload := `[` + strings.Repeat(`{"type":"custom"},`, 200) + `{}]`

	var (
		gotEncoding string
		gotBody     string
		gotAuth     string
		gotUA       string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Content-Encoding")
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		body, err := DecodeBody(r.Body, gotEncoding, 1<<20, 1<<20)
		require.NoError(t, err)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(WithBasicAuth("key", "secret"), WithUserAgent("telemetrykit/1.0"), WithLogger(logging.Discard()))
	resp, err := c.Execute(context.Background(), &transport.Request{
		Method:   http.MethodPost,
		URL:      srv.URL + "/warp9/",
		Header:   http.Header{"Content-Type": []string{"application/json"}},
		Body:     []byte(payload),
		Compress: true,
	})
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, "gzip", gotEncoding)
	assert.Equal(t, payload, gotBody)
	assert.Equal(t, "Basic a2V5OnNlY3JldA==", gotAuth)
	assert.Equal(t, "telemetrykit/1.0", gotUA)
}

func TestExecuteSkipsCompressionForSmallBodies(t *testing.T) {
	var gotEncoding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Content-Encoding")
		io.Copy(io.Discard, r.Body)
	}))
	defer srv.Close()

	c := NewClient(WithLogger(logging.Discard()))
	_, err := c.Execute(context.Background(), &transport.Request{
		Method: http.MethodPost, URL: srv.URL, Body: []byte(`[]`), Compress: true,
	})
	require.NoError(t, err)
	assert.Empty(t, gotEncoding)
}

func TestExecuteInflatesGzipResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gzip", r.Header.Get("Accept-Encoding"))
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Last-Modified", "Wed, 01 May 2024 12:00:00 GMT")
		w.Write(gzipString(t, `{"payloads":[]}`))
	}))
	defer srv.Close()

	c := NewClient(WithLogger(logging.Discard()))
	resp, err := c.Execute(context.Background(), &transport.Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, `{"payloads":[]}`, string(resp.Body))
	assert.Equal(t, "Wed, 01 May 2024 12:00:00 GMT", resp.Header.Get("Last-Modified"))
	assert.Empty(t, resp.Header.Get("Content-Encoding"))
}

func TestExecuteReturnsErrorStatusesAsResponses(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusServiceUnavailable} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		c := NewClient(WithLogger(logging.Discard()))
		resp, err := c.Execute(context.Background(), &transport.Request{Method: http.MethodGet, URL: srv.URL})
		require.NoError(t, err)
		assert.Equal(t, status, resp.StatusCode)
		assert.False(t, resp.IsSuccess())
		srv.Close()
	}
}

func TestExecuteTransportFailuresAreTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(WithLogger(logging.Discard()))
	_, err := c.Execute(context.Background(), &transport.Request{Method: http.MethodGet, URL: url})
	require.Error(t, err)
	assert.True(t, syncErrors.IsTransient(err))
	assert.True(t, syncErrors.IsRetryable(err))
}

func TestExecuteTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(WithTimeout(50*time.Millisecond), WithLogger(logging.Discard()))
	_, err := c.Execute(context.Background(), &transport.Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.True(t, syncErrors.IsTransient(err))
}

func TestExecuteEnforcesResponseLimits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(gzipString(t, strings.Repeat("a", 10_000)))
	}))
	defer srv.Close()

	limits := DefaultLimits()
	limits.MaxDecompressedBytes = 1000
	c := NewClient(WithLimits(limits), WithLogger(logging.Discard()))

	_, err := c.Execute(context.Background(), &transport.Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.True(t, IsBodyTooLarge(err))
	assert.True(t, syncErrors.IsTransient(err))
}

func TestDecodeBody(t *testing.T) {
	out, err := DecodeBody(strings.NewReader("plain"), "", 10, 10)
	require.NoError(t, err)
	assert.Equal(t, "plain", string(out))

	_, err = DecodeBody(strings.NewReader("too long body"), "", 5, 100)
	assert.True(t, IsBodyTooLarge(err))

	_, err = DecodeBody(strings.NewReader("x"), "br", 10, 10)
	assert.ErrorContains(t, err, "unsupported content encoding")

	_, err = DecodeBody(strings.NewReader("not gzip"), "gzip", 100, 100)
	assert.ErrorContains(t, err, "invalid gzip")

	exact := gzipString(t, "12345")
	out, err = DecodeBody(bytes.NewReader(exact), "GZIP", 1000, 5)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(out))

	_, err = DecodeBody(bytes.NewReader(gzipString(t, "123456")), "gzip", 1000, 5)
	assert.True(t, IsBodyTooLarge(err))
}
