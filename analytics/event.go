package analytics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	syncErrors "github.com/c0deZ3R0/go-telemetry-kit/errors"
	"github.com/c0deZ3R0/go-telemetry-kit/internal/idgen"
)

// Priority is a scheduling hint. It never affects ordering within a batch.
type Priority int

const (
	Low Priority = iota
	Normal
	High
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority parses "low", "normal" or "high".
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low, nil
	case "", "normal":
		return Normal, nil
	case "high":
		return High, nil
	}
	return Normal, fmt.Errorf("unknown priority %q", s)
}

// Data is an ordered mapping of string keys to JSON-compatible values.
// Keys marshal in insertion order.
type Data struct {
	keys   []string
	values map[string]any
}

// NewData returns an empty Data.
func NewData() *Data {
	return &Data{values: make(map[string]any)}
}

// Set stores v under key. Re-setting an existing key keeps its position.
func (d *Data) Set(key string, v any) *Data {
	if d.values == nil {
		d.values = make(map[string]any)
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
	return d
}

func (d *Data) Get(key string) (any, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.values[key]
	return v, ok
}

func (d *Data) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Keys returns the keys in insertion order.
func (d *Data) Keys() []string {
	if d == nil {
		return nil
	}
	return append([]string(nil), d.keys...)
}

func (d *Data) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Clone returns a shallow copy.
func (d *Data) Clone() *Data {
	c := NewData()
	if d == nil {
		return c
	}
	for _, k := range d.keys {
		c.Set(k, d.values[k])
	}
	return c
}

func (d *Data) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if d != nil {
		for i, k := range d.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			val, err := json.Marshal(d.values[k])
			if err != nil {
				return nil, fmt.Errorf("data key %q: %w", k, err)
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the order of its top-level keys.
func (d *Data) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("data must be a JSON object")
	}
	*d = Data{values: make(map[string]any)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return err
		}
		d.Set(key, v)
	}
	_, err = dec.Token()
	return err
}

// Event is one producer-supplied occurrence. ID and Time are assigned by
// NewEvent or, when left empty, by the pipeline at admission.
type Event struct {
	ID       string
	Type     string
	Time     time.Time
	Priority Priority
	Data     *Data
}

// NewEvent returns an event with a fresh ID. A nil data is treated as empty.
func NewEvent(eventType string, priority Priority, data *Data) Event {
	if data == nil {
		data = NewData()
	}
	return Event{
		ID:       idgen.EventID(),
		Type:     eventType,
		Priority: priority,
		Data:     data,
	}
}

var eventTypePattern = regexp.MustCompile(`^[a-z0-9_]{1,255}$`)

// ValidateType checks the event type naming rule.
func ValidateType(eventType string) error {
	if !eventTypePattern.MatchString(eventType) {
		return syncErrors.NewValidationError(syncErrors.OpRecordEvent,
			fmt.Errorf("event type %q must be 1-255 characters of [a-z0-9_]", eventType))
	}
	return nil
}

// FormatTime renders t as Unix seconds with millisecond precision.
func FormatTime(t time.Time) string {
	ms := t.UnixMilli()
	sign := ""
	if ms < 0 {
		sign = "-"
		ms = -ms
	}
	return fmt.Sprintf("%s%d.%03d", sign, ms/1000, ms%1000)
}

// envelope is the upload wire form of an event.
type envelope struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
	Time    string `json:"time"`
	Data    *Data  `json:"data"`
}

// Enrichment keys appended to every event at record time.
const (
	KeySessionID                 = "session_id"
	KeyConnectionType            = "connection_type"
	KeyNotificationAuthorization = "notification_authorization"
	KeyNotificationTypes         = "notification_types"
)
