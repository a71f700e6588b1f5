package convert

import (
	"strings"

	"github.com/parcelworks/legacyconv/internal/schema"
)

// transformBatch re-keys rows by target column, applies each mapping's
// transformation, and coerces values to the declared type. A value that
// refuses to coerce is carried through untouched so the validator can
// flag the row instead of the batch aborting.
func transformBatch(batch schema.Batch, mappings []schema.ColumnMapping, dateFormat string) schema.Batch {
	out := make(schema.Batch, len(batch))
	for i, row := range batch {
		t := make(schema.Row, len(mappings))
		for _, mp := range mappings {
			value := row[mp.SourceColumn]
			value = applyTransform(mp.Transform, value)
			coerced, err := schema.Coerce(value, mp.DataType, dateFormat)
			if err != nil {
				t[mp.TargetColumn] = value
				continue
			}
			t[mp.TargetColumn] = coerced
		}
		out[i] = t
	}
	return out
}

// applyTransform runs a named string transformation; identity when the
// name is empty or unknown.
func applyTransform(name string, value interface{}) interface{} {
	if name == "" || value == nil {
		return value
	}
	s, ok := value.(string)
	if !ok {
		return value
	}

	switch name {
	case "trim":
		return strings.TrimSpace(s)
	case "uppercase":
		return strings.ToUpper(s)
	case "lowercase":
		return strings.ToLower(s)
	case "strip_leading_zeros":
		trimmed := strings.TrimLeft(s, "0")
		if trimmed == "" && s != "" {
			return "0"
		}
		return trimmed
	case "normalize_spaces":
		return strings.Join(strings.Fields(s), " ")
	default:
		return value
	}
}
