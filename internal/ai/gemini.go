package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/parcelworks/legacyconv/internal/schema"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Gemini asks Google's Gemini API for format and mapping suggestions.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini-backed suggester.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) generateJSON(ctx context.Context, prompt string, out interface{}) error {
	result, err := g.client.Models.GenerateContent(ctx,
		g.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)
	if err != nil {
		return fmt.Errorf("gemini request failed: %w", err)
	}

	text := strings.TrimSpace(result.Text())
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), out); err != nil {
		return fmt.Errorf("gemini returned unparseable JSON: %w", err)
	}
	return nil
}

// SuggestFormat sends a sample of the file and its extension, expecting
// a single {format, confidence} object back.
func (g *Gemini) SuggestFormat(ctx context.Context, sample []byte, ext string) (string, float64, error) {
	prompt := fmt.Sprintf(`You are identifying the format of a legacy property-assessment data file.
Known formats: csv, pipe_delimited, tab_delimited, fixed_width, dbf, excel, xml, json.
File extension: %q
File sample (may be truncated):
%s

Respond with JSON: {"format": "<name>", "confidence": <0..1>}`, ext, printableSample(sample))

	var resp struct {
		Format     string  `json:"format"`
		Confidence float64 `json:"confidence"`
	}
	if err := g.generateJSON(ctx, prompt, &resp); err != nil {
		return "", 0, err
	}
	if resp.Confidence < 0 || resp.Confidence > 1 {
		return "", 0, fmt.Errorf("gemini confidence %v out of range", resp.Confidence)
	}
	log.Debug("Gemini format suggestion", "format", resp.Format, "confidence", resp.Confidence)
	return resp.Format, resp.Confidence, nil
}

type mappingSuggestion struct {
	SourceColumn string  `json:"source_column"`
	TargetColumn string  `json:"target_column"`
	DataType     string  `json:"data_type"`
	Required     bool    `json:"required"`
	Description  string  `json:"description"`
	Confidence   float64 `json:"confidence"`
	Rules        []struct {
		Type    string   `json:"type"`
		Values  []string `json:"values"`
		Min     *float64 `json:"min"`
		Max     *float64 `json:"max"`
		Pattern string   `json:"pattern"`
	} `json:"validation_rules"`
}

// SuggestMappings sends both schemas plus the current mapping state and
// expects an array of mapping tuples back.
func (g *Gemini) SuggestMappings(ctx context.Context, src *schema.SourceSchema, dst *schema.TargetSchema, current []schema.ColumnMapping) ([]schema.ColumnMapping, error) {
	srcJSON, _ := json.Marshal(src)
	dstJSON, _ := json.Marshal(dst)
	curJSON, _ := json.Marshal(current)

	prompt := fmt.Sprintf(`You are mapping columns from a legacy property-assessment file to a relational target table.
Source schema: %s
Target schema: %s
Mappings already proposed: %s

Suggest mappings for source columns. Respond with a JSON array of objects:
{"source_column", "target_column", "data_type" (string|integer|float|date|boolean|text), "required", "description", "confidence" (0..1), "validation_rules": [{"type" (required|valid_values|range|pattern), "values", "min", "max", "pattern"}]}`,
		srcJSON, dstJSON, curJSON)

	var resp []mappingSuggestion
	if err := g.generateJSON(ctx, prompt, &resp); err != nil {
		return nil, err
	}

	mappings := make([]schema.ColumnMapping, 0, len(resp))
	for _, s := range resp {
		if s.SourceColumn == "" || s.TargetColumn == "" {
			continue
		}
		if s.Confidence < 0 {
			s.Confidence = 0
		}
		if s.Confidence > 1 {
			s.Confidence = 1
		}
		mp := schema.ColumnMapping{
			SourceColumn: s.SourceColumn,
			TargetColumn: s.TargetColumn,
			DataType:     schema.DataType(s.DataType),
			Required:     s.Required,
			Description:  s.Description,
			Confidence:   s.Confidence,
			AISuggested:  true,
		}
		for _, r := range s.Rules {
			mp.Rules = append(mp.Rules, schema.ValidationRule{
				Type:    schema.RuleType(r.Type),
				Values:  r.Values,
				Min:     r.Min,
				Max:     r.Max,
				Pattern: r.Pattern,
			})
		}
		mappings = append(mappings, mp)
	}
	log.Debug("Gemini mapping suggestions", "count", len(mappings))
	return mappings, nil
}

// printableSample truncates the sample and replaces binary content so the
// prompt stays valid text.
func printableSample(sample []byte) string {
	const max = 2048
	if len(sample) > max {
		sample = sample[:max]
	}
	if utf8.Valid(sample) {
		return string(sample)
	}
	return fmt.Sprintf("<binary: % X>", sample[:min(64, len(sample))])
}
