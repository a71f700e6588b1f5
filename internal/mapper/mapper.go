package mapper

import (
	"context"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/parcelworks/legacyconv/internal/knowledge"
	"github.com/parcelworks/legacyconv/internal/schema"
)

// MappingSuggester is the optional AI collaborator. Implementations are
// best-effort; a nil suggester or an error leaves the knowledge-based
// result untouched.
type MappingSuggester interface {
	SuggestMappings(ctx context.Context, src *schema.SourceSchema, dst *schema.TargetSchema, current []schema.ColumnMapping) ([]schema.ColumnMapping, error)
}

const (
	categoryScoreFloor = 0.6
	charsetJaccardMin  = 0.6
	caseMatchScore     = 0.95
)

// Mapper suggests column mappings from a source schema to a target
// schema using the category catalog plus an optional AI backend.
type Mapper struct {
	catalog   *knowledge.Catalog
	suggester MappingSuggester
}

// New builds a mapper. suggester may be nil.
func New(catalog *knowledge.Catalog, suggester MappingSuggester) *Mapper {
	return &Mapper{catalog: catalog, suggester: suggester}
}

// Suggest produces mappings sorted by source column then descending
// confidence. assistanceLevel 0 disables the AI pass entirely.
func (m *Mapper) Suggest(ctx context.Context, src *schema.SourceSchema, dst *schema.TargetSchema, assistanceLevel int) ([]schema.ColumnMapping, error) {
	mappings := m.knowledgeMappings(src, dst)
	m.backfillBasic(src, dst, &mappings)

	if assistanceLevel > 0 && m.suggester != nil {
		suggested, err := m.suggester.SuggestMappings(ctx, src, dst, mappings)
		if err != nil {
			log.Warn("AI mapping suggestions unavailable", "error", err)
		} else {
			mappings = m.mergeAI(src, dst, mappings, suggested)
		}
	}

	sort.SliceStable(mappings, func(i, j int) bool {
		if mappings[i].SourceColumn != mappings[j].SourceColumn {
			return mappings[i].SourceColumn < mappings[j].SourceColumn
		}
		return mappings[i].Confidence > mappings[j].Confidence
	})
	return mappings, nil
}

// knowledgeMappings runs the category similarity pass: source and
// target columns that share a category are paired greedily by score.
func (m *Mapper) knowledgeMappings(src *schema.SourceSchema, dst *schema.TargetSchema) []schema.ColumnMapping {
	targetCats := make(map[string]knowledge.Category, len(dst.Columns))
	for _, tc := range dst.Columns {
		if cat, ok := m.catalog.Categorize(tc.Name); ok {
			targetCats[tc.Name] = cat
		}
	}

	var mappings []schema.ColumnMapping
	taken := map[string]bool{}
	for _, sc := range src.Columns {
		cat, ok := m.catalog.Categorize(sc.Name)
		if !ok {
			continue
		}

		bestScore := 0.0
		var bestTarget *schema.TargetColumn
		for i := range dst.Columns {
			tc := &dst.Columns[i]
			if taken[tc.Name] || targetCats[tc.Name].Key != cat.Key {
				continue
			}
			score := similarity(sc, *tc, cat)
			if score > bestScore {
				bestScore = score
				bestTarget = tc
			}
		}
		if bestTarget == nil || bestScore <= categoryScoreFloor {
			continue
		}

		taken[bestTarget.Name] = true
		mappings = append(mappings, categoryMapping(sc.Name, bestTarget.Name, cat, bestScore))
	}
	return mappings
}

func categoryMapping(source, target string, cat knowledge.Category, confidence float64) schema.ColumnMapping {
	return schema.ColumnMapping{
		SourceColumn: source,
		TargetColumn: target,
		DataType:     cat.SchemaType(),
		Required:     cat.Required,
		Rules:        cat.DefaultRules(),
		Confidence:   confidence,
		Description:  cat.Name,
	}
}

// similarity combines name, type, and description scores for one
// (source, target) pair within a shared category.
func similarity(sc schema.Column, tc schema.TargetColumn, cat knowledge.Category) float64 {
	name := tokenJaccard(sc.Name, tc.Name)
	typ := typeSimilarity(sc.Type, targetDataType(tc, cat))

	if sc.Description != "" && tc.Description != "" {
		desc := tokenJaccard(sc.Description, tc.Description)
		return 0.6*name + 0.2*typ + 0.2*desc
	}
	return 0.7*name + 0.3*typ
}

// targetDataType prefers the column's declared SQL type over the
// category default.
func targetDataType(tc schema.TargetColumn, cat knowledge.Category) schema.DataType {
	if t, ok := sqlDataType(tc.SQLType); ok {
		return t
	}
	return cat.SchemaType()
}

// sqlDataType maps a declared SQL column type onto the closest data
// type. Unrecognized types report false.
func sqlDataType(sqlType string) (schema.DataType, bool) {
	t := strings.ToUpper(sqlType)
	switch {
	case t == "":
		return "", false
	case strings.Contains(t, "INT"):
		return schema.TypeInteger, true
	case strings.Contains(t, "DOUBLE"), strings.Contains(t, "FLOAT"),
		strings.Contains(t, "REAL"), strings.Contains(t, "NUMERIC"),
		strings.Contains(t, "DECIMAL"):
		return schema.TypeFloat, true
	case strings.Contains(t, "DATE"), strings.Contains(t, "TIME"):
		return schema.TypeDate, true
	case strings.Contains(t, "BOOL"):
		return schema.TypeBoolean, true
	case strings.Contains(t, "TEXT"), strings.Contains(t, "CLOB"):
		return schema.TypeText, true
	case strings.Contains(t, "CHAR"):
		return schema.TypeString, true
	default:
		return "", false
	}
}

func typeSimilarity(a, b schema.DataType) float64 {
	if a == b {
		return 1.0
	}
	switch {
	case schema.Family(a) == "string" && schema.Family(b) == "string":
		return 0.9
	case schema.Family(a) == "numeric" && schema.Family(b) == "numeric":
		return 0.8
	case schema.Family(a) == "date" && schema.Family(b) == "date":
		return 0.9
	default:
		return 0.5
	}
}

// backfillBasic maps leftover source columns by direct name matching
// against still-unmapped targets.
func (m *Mapper) backfillBasic(src *schema.SourceSchema, dst *schema.TargetSchema, mappings *[]schema.ColumnMapping) {
	mappedSource := map[string]bool{}
	mappedTarget := map[string]bool{}
	for _, mp := range *mappings {
		mappedSource[mp.SourceColumn] = true
		mappedTarget[mp.TargetColumn] = true
	}

	for _, sc := range src.Columns {
		if mappedSource[sc.Name] {
			continue
		}
		target, confidence := matchBasic(sc.Name, dst, mappedTarget)
		if target == "" {
			continue
		}

		mp := schema.ColumnMapping{
			SourceColumn: sc.Name,
			TargetColumn: target,
			DataType:     sc.Type,
			Confidence:   confidence,
		}
		// A categorized target still contributes its defaults.
		if cat, ok := m.catalog.Categorize(target); ok {
			mp.DataType = cat.SchemaType()
			mp.Required = cat.Required
			mp.Rules = cat.DefaultRules()
			mp.Description = cat.Name
		}
		mappedTarget[target] = true
		*mappings = append(*mappings, mp)
	}
}

func matchBasic(source string, dst *schema.TargetSchema, taken map[string]bool) (string, float64) {
	for _, tc := range dst.Columns {
		if !taken[tc.Name] && tc.Name == source {
			return tc.Name, 1.0
		}
	}
	for _, tc := range dst.Columns {
		if !taken[tc.Name] && strings.EqualFold(tc.Name, source) {
			return tc.Name, caseMatchScore
		}
	}

	best, bestScore := "", 0.0
	for _, tc := range dst.Columns {
		if taken[tc.Name] {
			continue
		}
		if score := charsetJaccard(source, tc.Name); score >= charsetJaccardMin && score > bestScore {
			best, bestScore = tc.Name, score
		}
	}
	return best, bestScore
}

// mergeAI folds AI suggestions into the knowledge result keyed by
// source column, preferring the higher-confidence entry. Suggestions
// referencing unknown columns are dropped.
func (m *Mapper) mergeAI(src *schema.SourceSchema, dst *schema.TargetSchema, base, suggested []schema.ColumnMapping) []schema.ColumnMapping {
	bydst := make(map[string]bool, len(dst.Columns))
	for _, tc := range dst.Columns {
		bydst[tc.Name] = true
	}

	merged := make(map[string]schema.ColumnMapping, len(base))
	for _, mp := range base {
		merged[mp.SourceColumn] = mp
	}
	for _, mp := range suggested {
		if _, ok := src.Column(mp.SourceColumn); !ok || !bydst[mp.TargetColumn] {
			log.Debug("Dropping AI suggestion for unknown column",
				"source", mp.SourceColumn, "target", mp.TargetColumn)
			continue
		}
		mp.AISuggested = true
		if prev, ok := merged[mp.SourceColumn]; !ok || mp.Confidence > prev.Confidence {
			merged[mp.SourceColumn] = mp
		}
	}

	out := make([]schema.ColumnMapping, 0, len(merged))
	for _, mp := range merged {
		out = append(out, mp)
	}
	return out
}

// AutoApply reports whether a suggested mapping should be applied
// without user review at the given assistance level.
func AutoApply(level int, mp schema.ColumnMapping) bool {
	switch level {
	case 2:
		return mp.Confidence > 0.75
	case 3:
		return true
	default:
		return false
	}
}

func tokenJaccard(a, b string) float64 {
	return jaccard(tokens(a), tokens(b))
}

func tokens(s string) map[string]bool {
	set := map[string]bool{}
	for _, t := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == '_' || r == ' ' || r == '-'
	}) {
		set[t] = true
	}
	return set
}

func charsetJaccard(a, b string) float64 {
	set := func(s string) map[rune]bool {
		out := map[rune]bool{}
		for _, r := range strings.ToLower(s) {
			if r != '_' && r != ' ' && r != '-' {
				out[r] = true
			}
		}
		return out
	}
	ar, br := set(a), set(b)

	inter := 0
	for r := range ar {
		if br[r] {
			inter++
		}
	}
	union := len(ar) + len(br) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
