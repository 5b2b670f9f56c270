package httptransport

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// errDecompressedTooLarge is returned when a gzip body inflates past its limit.
	errDecompressedTooLarge = errors.New("decompressed data exceeds maximum size limit")
	// errBodyTooLarge is returned when the raw body exceeds its limit.
	errBodyTooLarge = errors.New("body exceeds maximum size limit")
)

// maxDecompressedReader wraps an io.Reader to enforce decompressed size limits
type maxDecompressedReader struct {
	reader   io.Reader
	limit    int64
	consumed int64
}

func (r *maxDecompressedReader) Read(p []byte) (int, error) {
	if r.consumed >= r.limit {
		// Only an error if more data follows.
		var probe [1]byte
		if n, _ := r.reader.Read(probe[:]); n > 0 {
			return 0, errDecompressedTooLarge
		}
		return 0, io.EOF
	}

	maxRead := r.limit - r.consumed
	if int64(len(p)) > maxRead {
		p = p[:maxRead]
	}

	n, err := r.reader.Read(p)
	r.consumed += int64(n)
	return n, err
}

// gzipBytes compresses data.
func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeBody reads r fully, inflating it when contentEncoding is gzip.
// maxBytes bounds the raw body and maxDecompressed the inflated one.
func DecodeBody(r io.Reader, contentEncoding string, maxBytes, maxDecompressed int64) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(raw)) > maxBytes {
		return nil, errBodyTooLarge
	}

	encoding := strings.TrimSpace(strings.ToLower(contentEncoding))
	switch encoding {
	case "", "identity":
		return raw, nil
	case "gzip":
	default:
		return nil, fmt.Errorf("unsupported content encoding: %s", encoding)
	}

	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid gzip data: %w", err)
	}
	defer gz.Close()

	out, err := io.ReadAll(&maxDecompressedReader{reader: gz, limit: maxDecompressed})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IsBodyTooLarge reports whether err came from a size limit in DecodeBody.
func IsBodyTooLarge(err error) bool {
	return errors.Is(err, errBodyTooLarge) || errors.Is(err, errDecompressedTooLarge)
}
