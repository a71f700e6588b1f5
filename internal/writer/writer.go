package writer

import (
	"context"
	"errors"

	"github.com/parcelworks/legacyconv/internal/schema"
)

// ErrTableNotFound distinguishes a missing table from an infrastructure
// failure when describing the target.
var ErrTableNotFound = errors.New("target table not found")

// TransactionMode controls write granularity.
type TransactionMode string

const (
	// ModeSingle wraps the whole batch in one transaction; nothing is
	// written on failure.
	ModeSingle TransactionMode = "single"
	// ModeBatch uses a multi-row insert with provider-default batching;
	// a mid-batch failure may leave it partially written.
	ModeBatch TransactionMode = "batch"
	// ModeRow commits one transaction per row.
	ModeRow TransactionMode = "row"
)

// ValidMode reports whether m names a supported transaction mode.
func ValidMode(m TransactionMode) bool {
	switch m {
	case ModeSingle, ModeBatch, ModeRow:
		return true
	}
	return false
}

// TargetWriter appends converted rows to the target database and
// answers schema questions about it.
type TargetWriter interface {
	// ListTables returns the target's table names.
	ListTables(ctx context.Context) ([]string, error)

	// GetTargetSchema describes a table. Returns ErrTableNotFound when
	// the table does not exist.
	GetTargetSchema(ctx context.Context, name string) (*schema.TargetSchema, error)

	// CreateTable creates the table described by the schema.
	CreateTable(ctx context.Context, target *schema.TargetSchema) error

	// WriteBatch appends rows under the given transaction mode and
	// returns how many rows were written.
	WriteBatch(ctx context.Context, table string, columns []string, rows schema.Batch, mode TransactionMode) (int, error)

	// CheckRow evaluates a SQL check predicate against one row.
	// Column references in the predicate are written as {column}.
	CheckRow(ctx context.Context, check string, row schema.Row) (bool, error)

	// Close releases the underlying connection pool.
	Close() error
}
