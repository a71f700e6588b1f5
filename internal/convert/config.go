package convert

import (
	"fmt"
	"time"

	"github.com/parcelworks/legacyconv/internal/schema"
	"github.com/parcelworks/legacyconv/internal/writer"
)

// Defaults for ConversionConfig fields left unset by the caller.
const (
	DefaultBatchSize       = 5000
	DefaultErrorThreshold  = 0.10
	DefaultAssistanceLevel = 2
	DefaultEncoding        = "utf-8"
)

// Config freezes everything one conversion needs. It is persisted as
// config.json and never changes once the conversion starts.
type Config struct {
	ID                   string                 `json:"id"`
	SourceFormat         string                 `json:"source_format"`
	TargetSchema         string                 `json:"target_schema"`
	Mappings             []schema.ColumnMapping `json:"mappings"`
	BatchSize            int                    `json:"batch_size"`
	ValidateOnly         bool                   `json:"validate_only"`
	CreateMissingColumns bool                   `json:"create_missing_columns"`
	IDColumn             string                 `json:"id_column,omitempty"`
	DateFormat           string                 `json:"date_format"`
	Encoding             string                 `json:"encoding"`
	ErrorThreshold       float64                `json:"error_threshold"`
	AIAssistanceLevel    int                    `json:"ai_assistance_level"`
	TransactionMode      writer.TransactionMode `json:"transaction_mode"`
	CustomSettings       map[string]interface{} `json:"custom_settings,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
}

// ApplyDefaults fills unset fields with their documented defaults.
// ErrorThreshold is left alone: zero is a meaningful setting (fail on
// the first error row), so its default comes from the CLI flag layer.
func (c *Config) ApplyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.DateFormat == "" {
		c.DateFormat = schema.ISODateFormat
	}
	if c.Encoding == "" {
		c.Encoding = DefaultEncoding
	}
	if c.TransactionMode == "" {
		c.TransactionMode = writer.ModeBatch
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
}

// Validate rejects configs that would fail after work had started.
func (c *Config) Validate() error {
	if c.SourceFormat == "" {
		return fmt.Errorf("source_format is required")
	}
	if c.TargetSchema == "" {
		return fmt.Errorf("target_schema is required")
	}
	if !c.ValidateOnly && len(c.Mappings) == 0 {
		return fmt.Errorf("mappings must not be empty unless validate_only is set")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	if c.ErrorThreshold < 0 || c.ErrorThreshold > 1 {
		return fmt.Errorf("error_threshold must be in [0,1]")
	}
	if c.AIAssistanceLevel < 0 || c.AIAssistanceLevel > 3 {
		return fmt.Errorf("ai_assistance_level must be 0..3")
	}
	if !writer.ValidMode(c.TransactionMode) {
		return fmt.Errorf("unknown transaction_mode %q", c.TransactionMode)
	}
	for _, mp := range c.Mappings {
		if mp.SourceColumn == "" || mp.TargetColumn == "" {
			return fmt.Errorf("mapping missing source or target column")
		}
		if mp.Confidence < 0 || mp.Confidence > 1 {
			return fmt.Errorf("mapping %s confidence out of range", mp.SourceColumn)
		}
	}
	return nil
}

// TargetColumns returns the mapping targets in mapping order without
// duplicates.
func (c *Config) TargetColumns() []string {
	seen := map[string]bool{}
	var cols []string
	for _, mp := range c.Mappings {
		if !seen[mp.TargetColumn] {
			seen[mp.TargetColumn] = true
			cols = append(cols, mp.TargetColumn)
		}
	}
	return cols
}
