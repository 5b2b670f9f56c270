// Package storage defines the persistence contracts used by the engines:
// the persisted event queue, the remote payload cache and the preference
// store. Implementations live in the sqlite and memory subpackages.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EventRecord is one enriched, serialized event waiting for upload.
type EventRecord struct {
	ID        string
	Type      string
	Time      string
	Priority  int
	SessionID string
	// Body is the complete upload envelope for the event.
	Body json.RawMessage
	// Size is len(Body).
	Size int
}

// QueueStats is the size accounting of an EventQueue.
type QueueStats struct {
	Count int
	Bytes int64
}

// EventQueue is durable, insertion-ordered storage for pending events.
// All methods are durable on return.
type EventQueue interface {
	Append(ctx context.Context, rec EventRecord) error
	// ReadAll returns every record, oldest first.
	ReadAll(ctx context.Context) ([]EventRecord, error)
	// DeleteByIDs removes the given records atomically; unknown IDs are ignored.
	DeleteByIDs(ctx context.Context, ids []string) error
	DeleteAll(ctx context.Context) error
	Stats(ctx context.Context) (QueueStats, error)
	// PruneToSize deletes oldest records until the total size is at most
	// maxBytes and returns how many were removed.
	PruneToSize(ctx context.Context, maxBytes int64) (int, error)
}

// PayloadRecord is a cached remote data payload.
type PayloadRecord struct {
	Type      string
	Timestamp time.Time
	Data      json.RawMessage
	// Metadata is the serialized fetch metadata the payload arrived with.
	Metadata json.RawMessage
}

// PayloadStore is durable storage for the last fetched payload of each type.
type PayloadStore interface {
	ReadAll(ctx context.Context) ([]PayloadRecord, error)
	ReadByType(ctx context.Context, payloadType string) (PayloadRecord, bool, error)
	Write(ctx context.Context, rec PayloadRecord) error
	// Apply writes and deletes payloads in one atomic step.
	Apply(ctx context.Context, writes []PayloadRecord, deletes []string) error
}

// Preferences is a small durable key-value store.
type Preferences interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// GetJSON decodes the preference at key into v. It reports false when the
// key is absent.
func GetJSON(ctx context.Context, p Preferences, key string, v any) (bool, error) {
	raw, ok, err := p.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode preference %q: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v as JSON under key.
func SetJSON(ctx context.Context, p Preferences, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode preference %q: %w", key, err)
	}
	return p.Set(ctx, key, raw)
}

// GetTime reads a time stored by SetTime, in UTC. The zero time means absent.
func GetTime(ctx context.Context, p Preferences, key string) (time.Time, error) {
	var nanos int64
	ok, err := GetJSON(ctx, p, key, &nanos)
	if err != nil || !ok {
		return time.Time{}, err
	}
	return time.Unix(0, nanos).UTC(), nil
}

// SetTime stores t with nanosecond precision.
func SetTime(ctx context.Context, p Preferences, key string, t time.Time) error {
	return SetJSON(ctx, p, key, t.UnixNano())
}
