package formats

import (
	"fmt"

	"github.com/parcelworks/legacyconv/internal/schema"
)

// maxStringWidth is the widest source column we let map to a plain string
// target before recommending text.
const maxStringWidth = 255

// validateMappingCommon checks a mapping set against an inferred source
// schema. All handlers share this; only schema inference differs per format.
func validateMappingCommon(src *schema.SourceSchema, mappings []schema.ColumnMapping) []schema.ValidationIssue {
	issues := []schema.ValidationIssue{}

	for _, m := range mappings {
		col, ok := src.Column(m.SourceColumn)
		if !ok {
			issues = append(issues, schema.ValidationIssue{
				Row:     -1,
				Column:  m.TargetColumn,
				Kind:    schema.IssueMissingSource,
				Message: fmt.Sprintf("source column %q not found in file", m.SourceColumn),
			})
			continue
		}

		if m.DataType != "" && !schema.Compatible(col.Type, m.DataType) {
			issues = append(issues, schema.ValidationIssue{
				Row:     -1,
				Column:  m.TargetColumn,
				Kind:    schema.IssueTypeMismatch,
				Message: fmt.Sprintf("source column %q is %s but mapping declares %s", m.SourceColumn, col.Type, m.DataType),
				Params:  map[string]interface{}{"source_type": string(col.Type), "target_type": string(m.DataType)},
			})
		}

		if col.Length > maxStringWidth && m.DataType == schema.TypeString {
			issues = append(issues, schema.ValidationIssue{
				Row:     -1,
				Column:  m.TargetColumn,
				Kind:    schema.IssueFieldLength,
				Message: fmt.Sprintf("source column %q is %d chars wide; use data type text", m.SourceColumn, col.Length),
				Params:  map[string]interface{}{"length": col.Length},
			})
		}
	}

	return issues
}
