package schema

import "strings"

// DataType is the inferred or declared type of a column. The set is closed;
// anything a handler cannot classify is a string.
type DataType string

const (
	TypeString  DataType = "string"
	TypeInteger DataType = "integer"
	TypeFloat   DataType = "float"
	TypeDate    DataType = "date"
	TypeBoolean DataType = "boolean"
	TypeText    DataType = "text"
)

// Row is one record keyed by column name. Handlers key rows by source
// column; the conversion engine re-keys them by target column.
type Row map[string]interface{}

// Batch is a bounded, in-memory slice of rows in source order.
type Batch []Row

// Column describes one column of an inferred source schema.
type Column struct {
	Name         string   `json:"name" yaml:"name"`
	Type         DataType `json:"type" yaml:"type"`
	Nullable     bool     `json:"nullable" yaml:"nullable"`
	Start        int      `json:"start,omitempty" yaml:"start,omitempty"` // fixed-width only
	End          int      `json:"end,omitempty" yaml:"end,omitempty"`     // exclusive
	XPath        string   `json:"xpath,omitempty" yaml:"xpath,omitempty"` // xml only
	Length       int      `json:"length,omitempty" yaml:"length,omitempty"`
	Decimals     int      `json:"decimals,omitempty" yaml:"decimals,omitempty"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	SampleValues []string `json:"sample_values,omitempty" yaml:"sample_values,omitempty"`
}

// SourceSchema is the structure a handler inferred from a file. Immutable
// once produced.
type SourceSchema struct {
	Format  string   `json:"format" yaml:"format"`
	Columns []Column `json:"columns" yaml:"columns"`
}

// Column returns the named column, matching case-sensitively first.
func (s *SourceSchema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	for _, c := range s.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// Names returns column names in schema order.
func (s *SourceSchema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// TargetColumn describes one column of the destination table.
type TargetColumn struct {
	Name        string `json:"name" yaml:"name"`
	SQLType     string `json:"sql_type" yaml:"sql_type"`
	Nullable    bool   `json:"nullable" yaml:"nullable"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ForeignKey is one edge from a target column to another table.
type ForeignKey struct {
	Column    string `json:"column" yaml:"column"`
	RefTable  string `json:"ref_table" yaml:"ref_table"`
	RefColumn string `json:"ref_column" yaml:"ref_column"`
}

// TargetSchema is the structure of the destination table, owned by the
// external writer and cached for the life of a conversion.
type TargetSchema struct {
	Name        string         `json:"name" yaml:"name"`
	Columns     []TargetColumn `json:"columns" yaml:"columns"`
	PrimaryKeys []string       `json:"primary_keys,omitempty" yaml:"primary_keys,omitempty"`
	ForeignKeys []ForeignKey   `json:"foreign_keys,omitempty" yaml:"foreign_keys,omitempty"`
}

// Column returns the named target column.
func (t *TargetSchema) Column(name string) (TargetColumn, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return TargetColumn{}, false
}

// ColumnMapping assigns one source column to one target column, with the
// declared type, rules, and a confidence score in [0,1].
type ColumnMapping struct {
	SourceColumn string           `json:"source_column" yaml:"source_column"`
	TargetColumn string           `json:"target_column" yaml:"target_column"`
	DataType     DataType         `json:"data_type" yaml:"data_type"`
	Required     bool             `json:"required" yaml:"required"`
	Rules        []ValidationRule `json:"validation_rules,omitempty" yaml:"validation_rules,omitempty"`
	Transform    string           `json:"transformation,omitempty" yaml:"transformation,omitempty"`
	Confidence   float64          `json:"confidence" yaml:"confidence"`
	AISuggested  bool             `json:"ai_suggested,omitempty" yaml:"ai_suggested,omitempty"`
	Description  string           `json:"description,omitempty" yaml:"description,omitempty"`
}

// RuleType identifies a validation rule kind. The set is closed.
type RuleType string

const (
	RuleRequired    RuleType = "required"
	RuleValidValues RuleType = "valid_values"
	RuleRange       RuleType = "range"
	RulePattern     RuleType = "pattern"
	RuleExpression  RuleType = "expression"
	RuleSQLCheck    RuleType = "sql_check"
)

// ValidationRule is one constraint attached to a mapping. Only the fields
// relevant to its type are populated.
type ValidationRule struct {
	Type       RuleType `json:"type" yaml:"type"`
	Values     []string `json:"values,omitempty" yaml:"values,omitempty"`
	Min        *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max        *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Pattern    string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Expression string   `json:"expression,omitempty" yaml:"expression,omitempty"`
	Tolerance  float64  `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	SQL        string   `json:"sql,omitempty" yaml:"sql,omitempty"`
	Message    string   `json:"message,omitempty" yaml:"message,omitempty"`
}

// IssueKind identifies what went wrong with a row or a mapping.
type IssueKind string

const (
	IssueMissingRequired IssueKind = "missing_required"
	IssueRangeMin        IssueKind = "range_min"
	IssueRangeMax        IssueKind = "range_max"
	IssuePattern         IssueKind = "pattern"
	IssueEnum            IssueKind = "enum"
	IssueTypeMismatch    IssueKind = "type_mismatch"
	IssueFieldLength     IssueKind = "field_length"
	IssueExpression      IssueKind = "expression"
	IssueSQLCheck        IssueKind = "sql_check"
	IssueMissingSource   IssueKind = "missing_source_column"
	IssueWriteFailed     IssueKind = "write_failed"
)

// ValidationIssue is one problem found in a batch or a mapping set. Row is
// the index within the source batch; -1 for issues not tied to a row.
type ValidationIssue struct {
	Row     int                    `json:"row"`
	Column  string                 `json:"column,omitempty"`
	Kind    IssueKind              `json:"kind"`
	Message string                 `json:"message"`
	Value   interface{}            `json:"value,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Family groups data types for compatibility checks.
func Family(t DataType) string {
	switch t {
	case TypeInteger, TypeFloat:
		return "numeric"
	case TypeDate:
		return "date"
	case TypeBoolean:
		return "boolean"
	default:
		return "string"
	}
}

// Compatible reports whether a source type can feed a target type without a
// mapping warning. String and text are interchangeable, integers widen to
// float, numeric and date values always degrade to string, and booleans
// degrade to integer or string.
func Compatible(src, dst DataType) bool {
	if src == dst {
		return true
	}
	if Family(src) == "string" && Family(dst) == "string" {
		return true
	}
	if src == TypeInteger && dst == TypeFloat {
		return true
	}
	if Family(dst) == "string" {
		return true
	}
	if src == TypeBoolean && dst == TypeInteger {
		return true
	}
	return false
}
