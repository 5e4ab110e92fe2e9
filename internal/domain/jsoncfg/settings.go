package jsoncfg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// WatermarkConfig configures the overlay watermark on outputs.
type WatermarkConfig struct {
	Enabled bool   `json:"enabled"`
	Text    string `json:"text,omitempty"`
}

// Settings holds the optional per-job processing knobs sent with a submission.
type Settings struct {
	Version     string          `json:"version"`
	Quantity    int             `json:"quantity"`
	AspectRatio string          `json:"aspect_ratio"`
	Quality     string          `json:"quality"`
	Notes       string          `json:"notes,omitempty"`
	Watermark   WatermarkConfig `json:"watermark"`
}

var allowedAspectRatios = map[string]struct{}{
	"original": {},
	"1:1":      {},
	"4:3":      {},
	"3:4":      {},
	"16:9":     {},
	"9:16":     {},
}

var allowedQualities = map[string]struct{}{
	"standard": {},
	"hd":       {},
}

const (
	// DefaultSettingsVersion is the schema version persisted with settings.
	DefaultSettingsVersion = "2024-06"
	DefaultAspectRatio     = "original"
	DefaultQuantity        = 1
	MaxQuantity            = 4
	DefaultQuality         = "standard"
	MaxNotesLength         = 500
)

// Decode parses raw settings, rejecting unknown fields. Empty input yields
// the zero value.
func Decode(raw json.RawMessage) (Settings, error) {
	var s Settings
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return s, nil
	}
	if trimmed[0] != '{' {
		return s, fmt.Errorf("settings must be a JSON object")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return s, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

// Normalize applies server defaults.
func (s *Settings) Normalize() {
	if s == nil {
		return
	}
	if s.Version == "" {
		s.Version = DefaultSettingsVersion
	}
	if s.Quantity <= 0 {
		s.Quantity = DefaultQuantity
	}
	s.AspectRatio = strings.TrimSpace(s.AspectRatio)
	if s.AspectRatio == "" {
		s.AspectRatio = DefaultAspectRatio
	}
	s.Quality = strings.ToLower(strings.TrimSpace(s.Quality))
	if s.Quality == "" {
		s.Quality = DefaultQuality
	}
	s.Notes = strings.TrimSpace(s.Notes)
	s.Watermark.Text = strings.TrimSpace(s.Watermark.Text)
}

// Validate checks a normalized settings object.
func (s Settings) Validate() error {
	if s.Quantity < 1 || s.Quantity > MaxQuantity {
		return fmt.Errorf("quantity must be between 1 and %d", MaxQuantity)
	}
	if _, ok := allowedAspectRatios[s.AspectRatio]; !ok {
		return fmt.Errorf("aspect_ratio must be one of original, 1:1, 4:3, 3:4, 16:9, 9:16")
	}
	if _, ok := allowedQualities[s.Quality]; !ok {
		return fmt.Errorf("quality must be standard or hd")
	}
	if len(s.Notes) > MaxNotesLength {
		return fmt.Errorf("notes must be at most %d characters", MaxNotesLength)
	}
	if s.Watermark.Enabled && s.Watermark.Text == "" {
		return fmt.Errorf("watermark.text is required when watermark.enabled is true")
	}
	return nil
}

// MustMarshal encodes v or panics; used for values built from known types.
func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}
