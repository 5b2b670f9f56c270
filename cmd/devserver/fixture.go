package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Fixture is the content the dev server hands out.
type Fixture struct {
	// AppKeys restricts the remote data endpoint. Empty accepts any key.
	AppKeys  []string         `yaml:"app_keys"`
	Tuning   Tuning           `yaml:"tuning"`
	Payloads []FixturePayload `yaml:"payloads"`
}

// Tuning is echoed back on every upload response. Zero fields are omitted.
type Tuning struct {
	MaxTotalKB         int `yaml:"max_total_kb"`
	MaxBatchKB         int `yaml:"max_batch_kb"`
	MinBatchIntervalMS int `yaml:"min_batch_interval_ms"`
}

// FixturePayload is one remote data entry. Language, when set, limits the
// entry to requests for that language.
type FixturePayload struct {
	Type      string         `yaml:"type"`
	Timestamp time.Time      `yaml:"timestamp"`
	Language  string         `yaml:"language"`
	Data      map[string]any `yaml:"data"`
}

// LoadFixture reads a YAML fixture from path.
func LoadFixture(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(raw)
}

// ParseFixture decodes a YAML fixture.
func ParseFixture(raw []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	for i, p := range f.Payloads {
		if strings.TrimSpace(p.Type) == "" {
			return nil, fmt.Errorf("parse fixture: payload %d has no type", i)
		}
	}
	return &f, nil
}

func (f *Fixture) allowsKey(key string) bool {
	if len(f.AppKeys) == 0 {
		return true
	}
	for _, k := range f.AppKeys {
		if k == key {
			return true
		}
	}
	return false
}

type wirePayload struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// payloadsFor renders the entries visible to language.
func (f *Fixture) payloadsFor(language string) ([]wirePayload, error) {
	out := make([]wirePayload, 0, len(f.Payloads))
	for _, p := range f.Payloads {
		if p.Language != "" && !strings.EqualFold(p.Language, language) {
			continue
		}
		data := p.Data
		if data == nil {
			data = map[string]any{}
		}
		body, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("payload %s: %w", p.Type, err)
		}
		out = append(out, wirePayload{
			Type:      p.Type,
			Timestamp: p.Timestamp.UTC().Format("2006-01-02T15:04:05.000"),
			Data:      body,
		})
	}
	return out, nil
}
