// Package formats contains the per-format file handlers, the handler
// registry, and format detection for legacy assessment files.
package formats

import (
	"sort"
	"sync"

	"github.com/parcelworks/legacyconv/internal/schema"
)

// BatchReader yields batches of rows lazily, in file order. Next returns
// io.EOF after the last batch. A read failure mid-stream yields an empty
// batch and a nil error so the conversion can continue counting.
type BatchReader interface {
	Next() (schema.Batch, error)
	Close() error
}

// Handler is the per-format reader capability set. Handlers are stateless
// across files but may cache inferred structure for a single file, so one
// instance is built per conversion via its Factory.
type Handler interface {
	// Name is the registry key, e.g. "csv" or "fixed_width".
	Name() string

	// CanHandle reports whether this handler recognizes the file.
	CanHandle(path string) bool

	// ReadSchema infers the source schema. Idempotent; does not advance
	// any stream consumed by ReadData.
	ReadSchema(path string) (*schema.SourceSchema, error)

	// ReadData streams the file as batches of at most batchSize rows.
	ReadData(path string, batchSize int) (BatchReader, error)

	// EstimatedRows reports how many data rows ReadData will yield.
	// Exact for formats that carry a row count in their header or can
	// be scanned cheaply; DBF includes deleted records in the count.
	EstimatedRows(path string) (int, error)

	// ValidateMapping checks a mapping set against the inferred schema and
	// returns mapping issues (warnings, not errors).
	ValidateMapping(path string, mappings []schema.ColumnMapping) ([]schema.ValidationIssue, error)
}

// Factory builds a fresh handler with format-specific custom settings.
type Factory func(settings map[string]interface{}) Handler

// Registry maps format names to handler factories. It is populated during
// startup and read-only afterwards.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name, replacing any previous entry.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Lookup returns the factory for a format name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns registered format names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry builds the registry with every built-in handler.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(FormatCSV, func(s map[string]interface{}) Handler { return NewDelimited(FormatCSV, ',', s) })
	r.Register(FormatPipe, func(s map[string]interface{}) Handler { return NewDelimited(FormatPipe, '|', s) })
	r.Register(FormatTab, func(s map[string]interface{}) Handler { return NewDelimited(FormatTab, '\t', s) })
	r.Register(FormatFixedWidth, func(s map[string]interface{}) Handler { return NewFixedWidth(s) })
	r.Register(FormatDBF, func(s map[string]interface{}) Handler { return NewDBF(s) })
	r.Register(FormatExcel, func(s map[string]interface{}) Handler { return NewExcel(s) })
	r.Register(FormatXML, func(s map[string]interface{}) Handler { return NewXML(s) })
	return r
}

// Format names used across the engine. The detector may also report
// "json", "binary", and "unknown", which have no registered handler.
const (
	FormatCSV        = "csv"
	FormatPipe       = "pipe_delimited"
	FormatTab        = "tab_delimited"
	FormatFixedWidth = "fixed_width"
	FormatDBF        = "dbf"
	FormatExcel      = "excel"
	FormatXML        = "xml"
	FormatJSON       = "json"
	FormatBinary     = "binary"
	FormatUnknown    = "unknown"
)
