// Package models defines the persistent entities of the untxt platform:
// users, folders, files, OCR tasks, results, document versions, edit
// sessions, permissions and the audit log.
//
// All identifiers are UUID strings. Timestamps are UTC. The structs carry
// GORM tags for the metadata store and JSON tags for the API surface.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// NewID returns a fresh opaque identifier.
func NewID() string {
	return uuid.NewString()
}

// JSONMap is a map column stored as JSON text. Used for audit details and
// event summaries so postgres and sqlite both handle it.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json map: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported json map source type %T", value)
	}

	if len(data) == 0 {
		*m = JSONMap{}
		return nil
	}

	return json.Unmarshal(data, m)
}

// ProcessingMode selects one OCR extraction pipeline.
type ProcessingMode string

const (
	// ModeText extracts plain positioned text as HTML.
	ModeText ProcessingMode = "text"
	// ModeKVP extracts key-value pairs with field selectors.
	ModeKVP ProcessingMode = "kvp"
	// ModeAnon redacts configured fields before extraction.
	ModeAnon ProcessingMode = "anon"
)

// IsValid checks if the mode is a known ProcessingMode.
func (m ProcessingMode) IsValid() bool {
	return m == ModeText || m == ModeKVP || m == ModeAnon
}

// ProcessingConfig is the declarative extraction configuration for a task.
// It is immutable once the task is queued.
type ProcessingConfig struct {
	Modes []ProcessingMode `json:"modes"`

	// KVPFields limits key-value extraction to the named fields.
	// Empty means all detected fields.
	KVPFields []string `json:"kvp_fields,omitempty"`

	// AnonFields lists the fields to redact in anonymization mode.
	AnonFields []string `json:"anon_fields,omitempty"`
}

// Validate checks that the configuration names at least one known mode.
func (c ProcessingConfig) Validate() error {
	if len(c.Modes) == 0 {
		return fmt.Errorf("processing config requires at least one mode")
	}
	for _, m := range c.Modes {
		if !m.IsValid() {
			return fmt.Errorf("unknown processing mode %q", m)
		}
	}
	return nil
}

// HasMode reports whether the configuration includes the given mode.
func (c ProcessingConfig) HasMode(m ProcessingMode) bool {
	for _, mode := range c.Modes {
		if mode == m {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer so the config is stored as JSON text.
func (c ProcessingConfig) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal processing config: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (c *ProcessingConfig) Scan(value any) error {
	if value == nil {
		*c = ProcessingConfig{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported processing config source type %T", value)
	}

	if len(data) == 0 {
		*c = ProcessingConfig{}
		return nil
	}

	return json.Unmarshal(data, c)
}
