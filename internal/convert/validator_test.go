package convert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parcelworks/legacyconv/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }

func TestValidateMissingRequired(t *testing.T) {
	mappings := []schema.ColumnMapping{
		{SourceColumn: "NM", TargetColumn: "name", DataType: schema.TypeString, Required: true},
	}
	batch := schema.Batch{
		{"name": nil},
		{"name": "SMITH JOHN"},
	}

	out := Validate(context.Background(), batch, mappings, 0, nil)

	assert.Equal(t, 2, out.Processed)
	assert.Equal(t, 1, out.Success)
	assert.Equal(t, 1, out.Errors)
	require.Len(t, out.ErrorIssues, 1)
	assert.Equal(t, 0, out.ErrorIssues[0].Row)
	assert.Equal(t, "name", out.ErrorIssues[0].Column)
	assert.Equal(t, schema.IssueMissingRequired, out.ErrorIssues[0].Kind)

	require.Len(t, out.ValidData, 1)
	assert.Equal(t, "SMITH JOHN", out.ValidData[0]["name"])
}

func TestValidateBaseRowOffset(t *testing.T) {
	mappings := []schema.ColumnMapping{
		{TargetColumn: "name", DataType: schema.TypeString, Required: true},
	}
	batch := schema.Batch{{"name": nil}}

	out := Validate(context.Background(), batch, mappings, 500, nil)
	require.Len(t, out.ErrorIssues, 1)
	assert.Equal(t, 500, out.ErrorIssues[0].Row)
}

func TestValidateNoRulesAlwaysPasses(t *testing.T) {
	mappings := []schema.ColumnMapping{
		{TargetColumn: "notes", DataType: schema.TypeString},
	}
	batch := schema.Batch{{"notes": nil}, {"notes": "x"}}

	out := Validate(context.Background(), batch, mappings, 0, nil)
	assert.Equal(t, 2, out.Success)
	assert.Zero(t, out.Errors)
}

func TestValidateAllRulesRunAfterFirstFailure(t *testing.T) {
	mappings := []schema.ColumnMapping{
		{TargetColumn: "value", DataType: schema.TypeFloat, Required: true,
			Rules: []schema.ValidationRule{{Type: schema.RuleRange, Min: floatPtr(0)}}},
		{TargetColumn: "status", DataType: schema.TypeString,
			Rules: []schema.ValidationRule{{Type: schema.RuleValidValues, Values: []string{"A", "I"}}}},
	}
	batch := schema.Batch{{"value": -10.0, "status": "Z"}}

	out := Validate(context.Background(), batch, mappings, 0, nil)
	assert.Equal(t, 1, out.Errors)
	require.Len(t, out.ErrorIssues, 2)
	assert.Equal(t, schema.IssueRangeMin, out.ErrorIssues[0].Kind)
	assert.Equal(t, schema.IssueEnum, out.ErrorIssues[1].Kind)
}

func TestValidateRange(t *testing.T) {
	mappings := []schema.ColumnMapping{
		{TargetColumn: "value", DataType: schema.TypeFloat,
			Rules: []schema.ValidationRule{{Type: schema.RuleRange, Min: floatPtr(0), Max: floatPtr(1000)}}},
	}
	batch := schema.Batch{
		{"value": 500.0},
		{"value": -1.0},
		{"value": 1001.0},
		{"value": nil},
	}

	out := Validate(context.Background(), batch, mappings, 0, nil)
	assert.Equal(t, 2, out.Success) // in-range and null both pass
	assert.Equal(t, 2, out.Errors)
	require.Len(t, out.ErrorIssues, 2)
	assert.Equal(t, schema.IssueRangeMin, out.ErrorIssues[0].Kind)
	assert.Equal(t, schema.IssueRangeMax, out.ErrorIssues[1].Kind)
}

func TestValidatePatternSkipsNullsAndNonStrings(t *testing.T) {
	mappings := []schema.ColumnMapping{
		{TargetColumn: "zip", DataType: schema.TypeString,
			Rules: []schema.ValidationRule{{Type: schema.RulePattern, Pattern: `^\d{5}$`}}},
	}
	batch := schema.Batch{
		{"zip": "25401"},
		{"zip": "bad"},
		{"zip": nil},
	}

	out := Validate(context.Background(), batch, mappings, 0, nil)
	assert.Equal(t, 2, out.Success)
	assert.Equal(t, 1, out.Errors)
	require.Len(t, out.ErrorIssues, 1)
	assert.Equal(t, schema.IssuePattern, out.ErrorIssues[0].Kind)
	assert.Equal(t, 1, out.ErrorIssues[0].Row)
}

func TestValidateTypeMismatchFromFailedCoercion(t *testing.T) {
	// transformBatch leaves raw strings in place when coercion fails;
	// the validator reports them as type mismatches.
	mappings := []schema.ColumnMapping{
		{TargetColumn: "value", DataType: schema.TypeInteger},
	}
	batch := schema.Batch{{"value": "not-a-number"}}

	out := Validate(context.Background(), batch, mappings, 0, nil)
	assert.Equal(t, 1, out.Errors)
	require.Len(t, out.ErrorIssues, 1)
	assert.Equal(t, schema.IssueTypeMismatch, out.ErrorIssues[0].Kind)
	assert.Equal(t, "not-a-number", out.ErrorIssues[0].Value)
}

func TestValidateIntegerWidensToFloat(t *testing.T) {
	mappings := []schema.ColumnMapping{
		{TargetColumn: "value", DataType: schema.TypeFloat},
	}
	batch := schema.Batch{{"value": int64(125000)}}

	out := Validate(context.Background(), batch, mappings, 0, nil)
	assert.Equal(t, 1, out.Success)
}

func TestValidateDateType(t *testing.T) {
	mappings := []schema.ColumnMapping{
		{TargetColumn: "sale_date", DataType: schema.TypeDate},
	}
	batch := schema.Batch{
		{"sale_date": time.Date(2021, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"sale_date": "2021-01-15"},
	}

	out := Validate(context.Background(), batch, mappings, 0, nil)
	assert.Equal(t, 1, out.Success)
	assert.Equal(t, 1, out.Errors)
}

func TestValidateExpressionWithTolerance(t *testing.T) {
	mappings := []schema.ColumnMapping{
		{TargetColumn: "total_value", DataType: schema.TypeFloat,
			Rules: []schema.ValidationRule{{
				Type:       schema.RuleExpression,
				Expression: "land_value + improvement_value == total_value",
				Tolerance:  0.01,
			}}},
	}
	batch := schema.Batch{
		{"land_value": 40000.0, "improvement_value": 85000.0, "total_value": 125000.0},
		{"land_value": 40000.0, "improvement_value": 85000.0, "total_value": 125000.005},
		{"land_value": 40000.0, "improvement_value": 85000.0, "total_value": 130000.0},
	}

	out := Validate(context.Background(), batch, mappings, 0, nil)
	assert.Equal(t, 2, out.Success)
	assert.Equal(t, 1, out.Errors)
	require.Len(t, out.ErrorIssues, 1)
	assert.Equal(t, schema.IssueExpression, out.ErrorIssues[0].Kind)
	assert.Equal(t, 2, out.ErrorIssues[0].Row)
}

type fakeChecker struct {
	pass bool
	err  error
	sql  string
}

func (c *fakeChecker) CheckRow(_ context.Context, check string, _ schema.Row) (bool, error) {
	c.sql = check
	return c.pass, c.err
}

func TestValidateSQLCheck(t *testing.T) {
	mappings := []schema.ColumnMapping{
		{TargetColumn: "district", DataType: schema.TypeString,
			Rules: []schema.ValidationRule{{
				Type:    schema.RuleSQLCheck,
				SQL:     "EXISTS (SELECT 1 FROM districts WHERE code = {district})",
				Message: "unknown district",
			}}},
	}
	batch := schema.Batch{{"district": "05"}}

	checker := &fakeChecker{pass: false}
	out := Validate(context.Background(), batch, mappings, 0, checker)
	assert.Equal(t, 1, out.Errors)
	require.Len(t, out.ErrorIssues, 1)
	assert.Equal(t, schema.IssueSQLCheck, out.ErrorIssues[0].Kind)
	assert.Equal(t, "unknown district", out.ErrorIssues[0].Message)
	assert.Contains(t, checker.sql, "{district}")

	checker = &fakeChecker{pass: true}
	out = Validate(context.Background(), batch, mappings, 0, checker)
	assert.Equal(t, 1, out.Success)
}

func TestValidateSQLCheckErrorBecomesIssue(t *testing.T) {
	mappings := []schema.ColumnMapping{
		{TargetColumn: "district", DataType: schema.TypeString,
			Rules: []schema.ValidationRule{{Type: schema.RuleSQLCheck, SQL: "broken"}}},
	}
	batch := schema.Batch{{"district": "05"}}

	checker := &fakeChecker{err: errors.New("connection reset")}
	out := Validate(context.Background(), batch, mappings, 0, checker)
	assert.Equal(t, 1, out.Errors)
}

func TestValidateSQLCheckSkippedWithoutChecker(t *testing.T) {
	mappings := []schema.ColumnMapping{
		{TargetColumn: "district", DataType: schema.TypeString,
			Rules: []schema.ValidationRule{{Type: schema.RuleSQLCheck, SQL: "whatever"}}},
	}
	batch := schema.Batch{{"district": "05"}}

	out := Validate(context.Background(), batch, mappings, 0, nil)
	assert.Equal(t, 1, out.Success)
}

func TestValidateDoesNotMutateInput(t *testing.T) {
	mappings := []schema.ColumnMapping{
		{TargetColumn: "value", DataType: schema.TypeFloat,
			Rules: []schema.ValidationRule{{Type: schema.RuleRange, Min: floatPtr(0)}}},
	}
	batch := schema.Batch{{"value": -5.0}}

	Validate(context.Background(), batch, mappings, 0, nil)
	assert.Equal(t, -5.0, batch[0]["value"])
}
