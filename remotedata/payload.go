// Package remotedata keeps a local cache of server-pushed configuration
// payloads fresh and fans changes out to subscribers.
//
// A Manager fetches every payload type in one request, compares each type
// against its cached copy, persists the types that changed and delivers them
// to the subscribers that asked for them. Concurrent refreshes share one
// request. Deliveries run on a single executor goroutine, in subscription
// order, never on the caller's goroutine.
package remotedata

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/c0deZ3R0/go-telemetry-kit/storage"
)

// Payload is the latest content of one payload type.
type Payload struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	// Metadata describes the client state the payload was fetched with.
	Metadata Metadata `json:"metadata"`
}

type digest [sha256.Size]byte

// contentDigest hashes the canonical form of the payload data, so that key
// order and whitespace differences do not count as changes.
func contentDigest(data json.RawMessage) digest {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return sha256.Sum256(bytes.TrimSpace(data))
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return sha256.Sum256(data)
	}
	return sha256.Sum256(canonical)
}

// SameContent reports whether a and b carry equal data.
func SameContent(a, b Payload) bool {
	return a.Type == b.Type && contentDigest(a.Data) == contentDigest(b.Data)
}

func (p Payload) record() (storage.PayloadRecord, error) {
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return storage.PayloadRecord{}, err
	}
	return storage.PayloadRecord{
		Type:      p.Type,
		Timestamp: p.Timestamp,
		Data:      append(json.RawMessage(nil), p.Data...),
		Metadata:  meta,
	}, nil
}

func payloadFromRecord(rec storage.PayloadRecord) (Payload, error) {
	p := Payload{
		Type:      rec.Type,
		Timestamp: rec.Timestamp,
		Data:      append(json.RawMessage(nil), rec.Data...),
	}
	if len(rec.Metadata) > 0 {
		if err := json.Unmarshal(rec.Metadata, &p.Metadata); err != nil {
			return Payload{}, fmt.Errorf("decode metadata of payload %q: %w", rec.Type, err)
		}
	}
	return p, nil
}

// sortPayloads orders payloads by type.
func sortPayloads(ps []Payload) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Type < ps[j].Type })
}

// wirePayload is one entry of the fetch response.
type wirePayload struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type wireResponse struct {
	Payloads []wirePayload `json:"payloads"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTimestamp reads the ISO 8601 variants the backend emits. Times
// without a zone are UTC.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// decodeResponse parses a 200 fetch body. Entries without a type are
// skipped; when a type repeats, the last entry wins.
func decodeResponse(body []byte, meta Metadata) (map[string]Payload, error) {
	var resp wireResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode remote data response: %w", err)
	}
	out := make(map[string]Payload, len(resp.Payloads))
	for _, wp := range resp.Payloads {
		if wp.Type == "" {
			continue
		}
		var ts time.Time
		if wp.Timestamp != "" {
			t, err := parseTimestamp(wp.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("payload %q: %w", wp.Type, err)
			}
			ts = t
		}
		data := wp.Data
		if len(data) == 0 {
			data = json.RawMessage("{}")
		}
		out[wp.Type] = Payload{Type: wp.Type, Timestamp: ts, Data: data, Metadata: meta}
	}
	return out, nil
}
