package mapper

import (
	"context"
	"errors"
	"testing"

	"github.com/parcelworks/legacyconv/internal/knowledge"
	"github.com/parcelworks/legacyconv/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadCatalog(t *testing.T) *knowledge.Catalog {
	t.Helper()
	catalog, err := knowledge.Load("")
	require.NoError(t, err)
	return catalog
}

func legacySource() *schema.SourceSchema {
	return &schema.SourceSchema{
		Format: "dbf",
		Columns: []schema.Column{
			{Name: "PARCELID", Type: schema.TypeString},
			{Name: "OWNER_NM", Type: schema.TypeString},
			{Name: "ASSD_VAL", Type: schema.TypeFloat},
		},
	}
}

func parcelTarget() *schema.TargetSchema {
	return &schema.TargetSchema{
		Name: "parcels",
		Columns: []schema.TargetColumn{
			{Name: "parcel_id", SQLType: "TEXT"},
			{Name: "owner_name", SQLType: "TEXT", Nullable: true},
			{Name: "assessed_value", SQLType: "DOUBLE PRECISION", Nullable: true},
		},
	}
}

func byName(t *testing.T, mappings []schema.ColumnMapping, source string) schema.ColumnMapping {
	t.Helper()
	for _, mp := range mappings {
		if mp.SourceColumn == source {
			return mp
		}
	}
	t.Fatalf("no mapping for source column %s", source)
	return schema.ColumnMapping{}
}

func TestSuggestAbbreviatedLegacyNames(t *testing.T) {
	m := New(loadCatalog(t), nil)

	mappings, err := m.Suggest(context.Background(), legacySource(), parcelTarget(), 0)
	require.NoError(t, err)
	require.Len(t, mappings, 3)

	parcel := byName(t, mappings, "PARCELID")
	assert.Equal(t, "parcel_id", parcel.TargetColumn)
	assert.True(t, parcel.Required)
	assert.GreaterOrEqual(t, parcel.Confidence, 0.7)

	owner := byName(t, mappings, "OWNER_NM")
	assert.Equal(t, "owner_name", owner.TargetColumn)
	assert.GreaterOrEqual(t, owner.Confidence, 0.7)

	value := byName(t, mappings, "ASSD_VAL")
	assert.Equal(t, "assessed_value", value.TargetColumn)
	assert.Equal(t, schema.TypeFloat, value.DataType)
	assert.GreaterOrEqual(t, value.Confidence, 0.7)
	require.Len(t, value.Rules, 1)
	assert.Equal(t, schema.RuleRange, value.Rules[0].Type)
	require.NotNil(t, value.Rules[0].Min)
	assert.Equal(t, 0.0, *value.Rules[0].Min)
}

func TestSuggestSortsBySourceColumn(t *testing.T) {
	m := New(loadCatalog(t), nil)

	mappings, err := m.Suggest(context.Background(), legacySource(), parcelTarget(), 0)
	require.NoError(t, err)
	require.Len(t, mappings, 3)
	assert.Equal(t, "ASSD_VAL", mappings[0].SourceColumn)
	assert.Equal(t, "OWNER_NM", mappings[1].SourceColumn)
	assert.Equal(t, "PARCELID", mappings[2].SourceColumn)
}

func TestSuggestCategoryPass(t *testing.T) {
	src := &schema.SourceSchema{
		Format: "csv",
		Columns: []schema.Column{
			{Name: "owner", Type: schema.TypeString},
		},
	}
	dst := &schema.TargetSchema{
		Name: "parcels",
		Columns: []schema.TargetColumn{
			{Name: "owner_name", SQLType: "TEXT"},
		},
	}
	m := New(loadCatalog(t), nil)

	mappings, err := m.Suggest(context.Background(), src, dst, 0)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "owner_name", mappings[0].TargetColumn)
	assert.Equal(t, "Owner Information", mappings[0].Description)
	assert.Greater(t, mappings[0].Confidence, 0.6)
}

func TestSuggestLeavesUnmatchableColumnsOut(t *testing.T) {
	src := &schema.SourceSchema{
		Format: "csv",
		Columns: []schema.Column{
			{Name: "zzqx_flag", Type: schema.TypeString},
		},
	}
	m := New(loadCatalog(t), nil)

	mappings, err := m.Suggest(context.Background(), src, parcelTarget(), 0)
	require.NoError(t, err)
	assert.Empty(t, mappings)
}

func TestSuggestExactNameMatch(t *testing.T) {
	src := &schema.SourceSchema{
		Format: "csv",
		Columns: []schema.Column{
			{Name: "parcel_id", Type: schema.TypeString},
		},
	}
	m := New(loadCatalog(t), nil)

	mappings, err := m.Suggest(context.Background(), src, parcelTarget(), 0)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "parcel_id", mappings[0].TargetColumn)
	assert.Equal(t, 1.0, mappings[0].Confidence)
	assert.True(t, mappings[0].Required)
}

func TestSQLDataType(t *testing.T) {
	cases := map[string]schema.DataType{
		"BIGINT":           schema.TypeInteger,
		"integer":          schema.TypeInteger,
		"DOUBLE PRECISION": schema.TypeFloat,
		"NUMERIC(12,2)":    schema.TypeFloat,
		"DATE":             schema.TypeDate,
		"TIMESTAMP":        schema.TypeDate,
		"BOOLEAN":          schema.TypeBoolean,
		"TEXT":             schema.TypeText,
		"VARCHAR(255)":     schema.TypeString,
	}
	for in, want := range cases {
		got, ok := sqlDataType(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := sqlDataType("")
	assert.False(t, ok)
	_, ok = sqlDataType("GEOMETRY")
	assert.False(t, ok)
}

func TestSimilarityUsesDeclaredColumnType(t *testing.T) {
	catalog := loadCatalog(t)
	cat, ok := catalog.Lookup("valuation")
	require.True(t, ok)

	sc := schema.Column{Name: "assessed value", Type: schema.TypeFloat}

	// a string-typed target column counts against a float source even
	// though the category default would match
	typed := schema.TargetColumn{Name: "assessed_value", SQLType: "VARCHAR(20)"}
	assert.InDelta(t, 0.85, similarity(sc, typed, cat), 1e-9)

	// without a declared type, the category default stands in
	bare := schema.TargetColumn{Name: "assessed_value"}
	assert.InDelta(t, 1.0, similarity(sc, bare, cat), 1e-9)
}

type stubSuggester struct {
	mappings []schema.ColumnMapping
	err      error
	called   bool
}

func (s *stubSuggester) SuggestMappings(_ context.Context, _ *schema.SourceSchema, _ *schema.TargetSchema, _ []schema.ColumnMapping) ([]schema.ColumnMapping, error) {
	s.called = true
	return s.mappings, s.err
}

func TestSuggestMergesAISuggestions(t *testing.T) {
	stub := &stubSuggester{mappings: []schema.ColumnMapping{
		// Higher confidence than the charset match, so it wins.
		{SourceColumn: "ASSD_VAL", TargetColumn: "assessed_value", DataType: schema.TypeFloat, Confidence: 0.95},
		// Unknown source column, dropped.
		{SourceColumn: "GHOST", TargetColumn: "owner_name", Confidence: 0.99},
	}}
	m := New(loadCatalog(t), stub)

	mappings, err := m.Suggest(context.Background(), legacySource(), parcelTarget(), 1)
	require.NoError(t, err)
	require.True(t, stub.called)
	require.Len(t, mappings, 3)

	value := byName(t, mappings, "ASSD_VAL")
	assert.Equal(t, 0.95, value.Confidence)
	assert.True(t, value.AISuggested)

	owner := byName(t, mappings, "OWNER_NM")
	assert.False(t, owner.AISuggested)
}

func TestSuggestKeepsHigherConfidenceBase(t *testing.T) {
	stub := &stubSuggester{mappings: []schema.ColumnMapping{
		{SourceColumn: "PARCELID", TargetColumn: "owner_name", Confidence: 0.4},
	}}
	m := New(loadCatalog(t), stub)

	mappings, err := m.Suggest(context.Background(), legacySource(), parcelTarget(), 1)
	require.NoError(t, err)

	parcel := byName(t, mappings, "PARCELID")
	assert.Equal(t, "parcel_id", parcel.TargetColumn)
	assert.False(t, parcel.AISuggested)
}

func TestSuggestLevelZeroSkipsAI(t *testing.T) {
	stub := &stubSuggester{}
	m := New(loadCatalog(t), stub)

	_, err := m.Suggest(context.Background(), legacySource(), parcelTarget(), 0)
	require.NoError(t, err)
	assert.False(t, stub.called)
}

func TestSuggestSurvivesAIError(t *testing.T) {
	stub := &stubSuggester{err: errors.New("quota exceeded")}
	m := New(loadCatalog(t), stub)

	mappings, err := m.Suggest(context.Background(), legacySource(), parcelTarget(), 2)
	require.NoError(t, err)
	assert.Len(t, mappings, 3)
}

func TestAutoApply(t *testing.T) {
	high := schema.ColumnMapping{Confidence: 0.9}
	low := schema.ColumnMapping{Confidence: 0.5}

	assert.False(t, AutoApply(0, high))
	assert.False(t, AutoApply(1, high))
	assert.True(t, AutoApply(2, high))
	assert.False(t, AutoApply(2, low))
	assert.True(t, AutoApply(3, low))
}
