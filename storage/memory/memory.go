// Package memory provides in-process implementations of the storage
// contracts. Nothing survives the process.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/c0deZ3R0/go-telemetry-kit/storage"
)

// EventQueue is an in-memory storage.EventQueue.
type EventQueue struct {
	mu      sync.RWMutex
	records []storage.EventRecord
}

var _ storage.EventQueue = (*EventQueue)(nil)

func NewEventQueue() *EventQueue { return &EventQueue{} }

func (q *EventQueue) Append(ctx context.Context, rec storage.EventRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec.Body = append([]byte(nil), rec.Body...)
	q.mu.Lock()
	q.records = append(q.records, rec)
	q.mu.Unlock()
	return nil
}

func (q *EventQueue) ReadAll(ctx context.Context) ([]storage.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]storage.EventRecord, len(q.records))
	copy(out, q.records)
	return out, nil
}

func (q *EventQueue) DeleteByIDs(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.records[:0]
	for _, rec := range q.records {
		if _, ok := drop[rec.ID]; !ok {
			kept = append(kept, rec)
		}
	}
	q.records = kept
	return nil
}

func (q *EventQueue) DeleteAll(ctx context.Context) error {
	q.mu.Lock()
	q.records = nil
	q.mu.Unlock()
	return nil
}

func (q *EventQueue) Stats(ctx context.Context) (storage.QueueStats, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	stats := storage.QueueStats{Count: len(q.records)}
	for _, rec := range q.records {
		stats.Bytes += int64(rec.Size)
	}
	return stats, nil
}

func (q *EventQueue) PruneToSize(ctx context.Context, maxBytes int64) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var total int64
	for _, rec := range q.records {
		total += int64(rec.Size)
	}
	removed := 0
	for total > maxBytes && removed < len(q.records) {
		total -= int64(q.records[removed].Size)
		removed++
	}
	q.records = append([]storage.EventRecord(nil), q.records[removed:]...)
	return removed, nil
}

// PayloadStore is an in-memory storage.PayloadStore.
type PayloadStore struct {
	mu       sync.RWMutex
	payloads map[string]storage.PayloadRecord
}

var _ storage.PayloadStore = (*PayloadStore)(nil)

func NewPayloadStore() *PayloadStore {
	return &PayloadStore{payloads: make(map[string]storage.PayloadRecord)}
}

func (s *PayloadStore) ReadAll(ctx context.Context) ([]storage.PayloadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.PayloadRecord, 0, len(s.payloads))
	for _, rec := range s.payloads {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

func (s *PayloadStore) ReadByType(ctx context.Context, payloadType string) (storage.PayloadRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.payloads[payloadType]
	return rec, ok, nil
}

func (s *PayloadStore) Write(ctx context.Context, rec storage.PayloadRecord) error {
	return s.Apply(ctx, []storage.PayloadRecord{rec}, nil)
}

func (s *PayloadStore) Apply(ctx context.Context, writes []storage.PayloadRecord, deletes []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, typ := range deletes {
		delete(s.payloads, typ)
	}
	for _, rec := range writes {
		rec.Data = append([]byte(nil), rec.Data...)
		rec.Metadata = append([]byte(nil), rec.Metadata...)
		s.payloads[rec.Type] = rec
	}
	return nil
}

// Preferences is an in-memory storage.Preferences.
type Preferences struct {
	mu     sync.RWMutex
	values map[string][]byte
}

var _ storage.Preferences = (*Preferences)(nil)

func NewPreferences() *Preferences {
	return &Preferences{values: make(map[string][]byte)}
}

func (p *Preferences) Get(ctx context.Context, key string) ([]byte, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (p *Preferences) Set(ctx context.Context, key string, value []byte) error {
	p.mu.Lock()
	p.values[key] = append([]byte(nil), value...)
	p.mu.Unlock()
	return nil
}

func (p *Preferences) Delete(ctx context.Context, key string) error {
	p.mu.Lock()
	delete(p.values, key)
	p.mu.Unlock()
	return nil
}
