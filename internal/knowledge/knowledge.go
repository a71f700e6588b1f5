package knowledge

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/parcelworks/legacyconv/internal/schema"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// Category groups semantically related assessment fields. Synonyms are
// matched as substrings of lowercased column names.
type Category struct {
	Key      string   `yaml:"key"`
	Name     string   `yaml:"name"`
	DataType string   `yaml:"data_type"`
	Required bool     `yaml:"required"`
	Synonyms []string `yaml:"synonyms"`
	Rules    []rule   `yaml:"rules"`
}

type rule struct {
	Type    string   `yaml:"type"`
	Values  []string `yaml:"values"`
	Min     *float64 `yaml:"min"`
	Max     *float64 `yaml:"max"`
	Pattern string   `yaml:"pattern"`
	Message string   `yaml:"message"`
}

type catalogFile struct {
	Version     string     `yaml:"version"`
	Description string     `yaml:"description"`
	Updated     string     `yaml:"updated"`
	Categories  []Category `yaml:"categories"`
}

// Catalog is the loaded field-category knowledge base.
type Catalog struct {
	Version    string
	Categories []Category
}

// Load reads a catalog from the given path, or the embedded default when
// the path is empty.
func Load(path string) (*Catalog, error) {
	data := embeddedCatalog
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
		}
		log.Debug("Using custom category catalog", "path", path)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(file.Categories) == 0 {
		return nil, fmt.Errorf("catalog has no categories")
	}
	for _, c := range file.Categories {
		if c.Key == "" {
			return nil, fmt.Errorf("catalog category missing key")
		}
		if len(c.Synonyms) == 0 {
			return nil, fmt.Errorf("catalog category %q has no synonyms", c.Key)
		}
	}

	return &Catalog{Version: file.Version, Categories: file.Categories}, nil
}

// Categorize assigns a column name to the category with the longest
// matching synonym. Longer matches win so that year_built lands in
// property characteristics rather than dates.
func (c *Catalog) Categorize(columnName string) (Category, bool) {
	name := normalizeName(columnName)

	var best Category
	bestLen := 0
	for _, cat := range c.Categories {
		for _, syn := range cat.Synonyms {
			s := normalizeName(syn)
			if strings.Contains(name, s) && len(s) > bestLen {
				best = cat
				bestLen = len(s)
			}
		}
	}
	return best, bestLen > 0
}

// Lookup returns the category with the given key.
func (c *Catalog) Lookup(key string) (Category, bool) {
	for _, cat := range c.Categories {
		if cat.Key == key {
			return cat, true
		}
	}
	return Category{}, false
}

// Keys returns the catalog's category keys in sorted order.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.Categories))
	for _, cat := range c.Categories {
		keys = append(keys, cat.Key)
	}
	sort.Strings(keys)
	return keys
}

// SchemaType returns the category's default column type.
func (cat Category) SchemaType() schema.DataType {
	switch cat.DataType {
	case "integer":
		return schema.TypeInteger
	case "float":
		return schema.TypeFloat
	case "date":
		return schema.TypeDate
	case "boolean":
		return schema.TypeBoolean
	case "text":
		return schema.TypeText
	default:
		return schema.TypeString
	}
}

// DefaultRules converts the category's rule templates into validation
// rules ready to attach to a mapping.
func (cat Category) DefaultRules() []schema.ValidationRule {
	rules := make([]schema.ValidationRule, 0, len(cat.Rules))
	for _, r := range cat.Rules {
		rules = append(rules, schema.ValidationRule{
			Type:    schema.RuleType(r.Type),
			Values:  r.Values,
			Min:     r.Min,
			Max:     r.Max,
			Pattern: r.Pattern,
			Message: r.Message,
		})
	}
	return rules
}

func normalizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
