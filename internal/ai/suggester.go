package ai

import (
	"context"

	"github.com/parcelworks/legacyconv/internal/schema"
)

// Suggester is the optional AI collaborator behind format detection and
// schema mapping. Both calls are best-effort; callers proceed with their
// own results when a call errors or returns nothing.
type Suggester interface {
	SuggestFormat(ctx context.Context, sample []byte, ext string) (format string, confidence float64, err error)
	SuggestMappings(ctx context.Context, src *schema.SourceSchema, dst *schema.TargetSchema, current []schema.ColumnMapping) ([]schema.ColumnMapping, error)
}

// Noop satisfies Suggester without offering any opinions.
type Noop struct{}

func (Noop) SuggestFormat(context.Context, []byte, string) (string, float64, error) {
	return "", 0, nil
}

func (Noop) SuggestMappings(context.Context, *schema.SourceSchema, *schema.TargetSchema, []schema.ColumnMapping) ([]schema.ColumnMapping, error) {
	return nil, nil
}
