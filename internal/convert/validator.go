package convert

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/parcelworks/legacyconv/internal/schema"
)

// maxIssuesPerCall truncates issue lists produced by a single Validate
// call.
const maxIssuesPerCall = 1000

// RowChecker evaluates sql_check rules. It is the only validation path
// that may issue I/O.
type RowChecker interface {
	CheckRow(ctx context.Context, check string, row schema.Row) (bool, error)
}

// Outcome is what one Validate call learned about a batch.
type Outcome struct {
	Processed     int
	Success       int
	Errors        int
	Warnings      int
	ErrorIssues   []schema.ValidationIssue
	WarningIssues []schema.ValidationIssue
	ValidData     schema.Batch
}

// Validate checks a transformed batch against the mapping rules. Rows
// are keyed by target column. Once a row fails any rule the remaining
// rules still run, so every issue surfaces, but the row is excluded
// from ValidData. Inputs are not mutated. baseRow offsets the row
// numbers recorded in issues; checker may be nil when no sql_check
// rules are present.
func Validate(ctx context.Context, batch schema.Batch, mappings []schema.ColumnMapping, baseRow int, checker RowChecker) Outcome {
	out := Outcome{Processed: len(batch)}

	for i, row := range batch {
		issues := validateRow(ctx, row, mappings, baseRow+i, checker)
		if len(issues) == 0 {
			out.Success++
			out.ValidData = append(out.ValidData, row)
			continue
		}
		out.Errors++
		if len(out.ErrorIssues) < maxIssuesPerCall {
			room := maxIssuesPerCall - len(out.ErrorIssues)
			if len(issues) > room {
				issues = issues[:room]
			}
			out.ErrorIssues = append(out.ErrorIssues, issues...)
		}
	}
	return out
}

func validateRow(ctx context.Context, row schema.Row, mappings []schema.ColumnMapping, rowNum int, checker RowChecker) []schema.ValidationIssue {
	var issues []schema.ValidationIssue
	add := func(column string, kind schema.IssueKind, msg string, value interface{}) {
		issues = append(issues, schema.ValidationIssue{
			Row:     rowNum,
			Column:  column,
			Kind:    kind,
			Message: msg,
			Value:   value,
		})
	}

	for _, mp := range mappings {
		value, present := row[mp.TargetColumn]

		if mp.Required && (!present || value == nil) {
			add(mp.TargetColumn, schema.IssueMissingRequired, "required value is missing", nil)
		}
		if present && value != nil && !matchesType(value, mp.DataType) {
			add(mp.TargetColumn, schema.IssueTypeMismatch,
				fmt.Sprintf("value does not conform to type %s", mp.DataType), value)
		}

		for _, rule := range mp.Rules {
			switch rule.Type {
			case schema.RuleRequired:
				if mp.Required {
					continue // already checked above
				}
				if !present || value == nil {
					add(mp.TargetColumn, schema.IssueMissingRequired, "required value is missing", nil)
				}

			case schema.RuleValidValues:
				if value == nil {
					continue
				}
				if !containsValue(rule.Values, value) {
					add(mp.TargetColumn, schema.IssueEnum,
						fmt.Sprintf("value not in %v", rule.Values), value)
				}

			case schema.RuleRange:
				f, ok := toFloat(value)
				if !ok {
					continue
				}
				if rule.Min != nil && f < *rule.Min {
					add(mp.TargetColumn, schema.IssueRangeMin,
						fmt.Sprintf("value below minimum %v", *rule.Min), value)
				}
				if rule.Max != nil && f > *rule.Max {
					add(mp.TargetColumn, schema.IssueRangeMax,
						fmt.Sprintf("value above maximum %v", *rule.Max), value)
				}

			case schema.RulePattern:
				s, ok := value.(string)
				if !ok || value == nil {
					continue // nulls and non-strings are skipped
				}
				re, err := compiledPattern(rule.Pattern)
				if err != nil {
					add(mp.TargetColumn, schema.IssuePattern,
						fmt.Sprintf("invalid pattern %q: %v", rule.Pattern, err), value)
					continue
				}
				if !re.MatchString(s) {
					add(mp.TargetColumn, schema.IssuePattern,
						fmt.Sprintf("value does not match %q", rule.Pattern), value)
				}

			case schema.RuleExpression:
				ok, err := evalExpression(rule.Expression, rule.Tolerance, row)
				if err != nil {
					add(mp.TargetColumn, schema.IssueExpression,
						fmt.Sprintf("expression %q: %v", rule.Expression, err), value)
				} else if !ok {
					msg := rule.Message
					if msg == "" {
						msg = fmt.Sprintf("expression %q not satisfied", rule.Expression)
					}
					add(mp.TargetColumn, schema.IssueExpression, msg, value)
				}

			case schema.RuleSQLCheck:
				if checker == nil {
					continue
				}
				ok, err := checker.CheckRow(ctx, rule.SQL, row)
				if err != nil {
					add(mp.TargetColumn, schema.IssueSQLCheck,
						fmt.Sprintf("sql check failed: %v", err), value)
				} else if !ok {
					msg := rule.Message
					if msg == "" {
						msg = "sql check not satisfied"
					}
					add(mp.TargetColumn, schema.IssueSQLCheck, msg, value)
				}
			}
		}
	}
	return issues
}

func matchesType(v interface{}, t schema.DataType) bool {
	switch t {
	case schema.TypeInteger:
		switch v.(type) {
		case int, int64:
			return true
		}
		return false
	case schema.TypeFloat:
		switch v.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case schema.TypeDate:
		_, ok := v.(time.Time)
		return ok
	case schema.TypeBoolean:
		_, ok := v.(bool)
		return ok
	default:
		_, ok := v.(string)
		return ok
	}
}

func containsValue(values []string, v interface{}) bool {
	s := fmt.Sprint(v)
	for _, candidate := range values {
		if candidate == s {
			return true
		}
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

var (
	patternMu    sync.Mutex
	patternCache = map[string]*regexp.Regexp{}
)

func compiledPattern(pattern string) (*regexp.Regexp, error) {
	patternMu.Lock()
	defer patternMu.Unlock()
	if re, ok := patternCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternCache[pattern] = re
	return re, nil
}
