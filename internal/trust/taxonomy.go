package trust

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed builtin/taxonomy.yaml
var builtinFS embed.FS

// CustomPatternsFile is the per-repository file that extends the bundled
// taxonomy.
const CustomPatternsFile = "custom-patterns.yaml"

// Pattern is one trustable label.
type Pattern struct {
	ID          string `yaml:"id" json:"id"`
	Category    string `yaml:"category,omitempty" json:"category"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// Category groups related patterns.
type Category struct {
	ID          string    `yaml:"id" json:"id"`
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description" json:"description"`
	Patterns    []Pattern `yaml:"patterns" json:"patterns"`
}

type taxonomyFile struct {
	Categories []Category `yaml:"categories"`
}

// Builtin returns the bundled taxonomy.
func Builtin() ([]Category, error) {
	data, err := builtinFS.ReadFile("builtin/taxonomy.yaml")
	if err != nil {
		return nil, fmt.Errorf("trust.Builtin: %w", err)
	}
	cats, err := parseTaxonomy(data)
	if err != nil {
		return nil, fmt.Errorf("trust.Builtin: %w", err)
	}
	return cats, nil
}

// LoadCustom reads custom categories from path. A missing file yields no
// categories and no error.
func LoadCustom(path string) ([]Category, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trust.LoadCustom: %w", err)
	}
	cats, err := parseTaxonomy(data)
	if err != nil {
		return nil, fmt.Errorf("trust.LoadCustom: parse %s: %w", path, err)
	}
	return cats, nil
}

// Load returns the bundled taxonomy extended with the custom patterns at
// customPath. An unreadable custom file is reported alongside the bundled
// taxonomy so callers can log it and carry on.
func Load(customPath string) ([]Category, error) {
	base, err := Builtin()
	if err != nil {
		return nil, err
	}
	if customPath == "" {
		return base, nil
	}
	custom, err := LoadCustom(customPath)
	return Merge(base, custom), err
}

// Merge appends custom categories to base. Patterns of a category already
// present are added unless their id is taken.
func Merge(base, custom []Category) []Category {
	out := slices.Clone(base)
	for _, c := range custom {
		i := slices.IndexFunc(out, func(e Category) bool { return e.ID == c.ID })
		if i < 0 {
			out = append(out, c)
			continue
		}
		merged := out[i]
		merged.Patterns = slices.Clone(merged.Patterns)
		for _, p := range c.Patterns {
			if !slices.ContainsFunc(merged.Patterns, func(e Pattern) bool { return e.ID == p.ID }) {
				merged.Patterns = append(merged.Patterns, p)
			}
		}
		out[i] = merged
	}
	return out
}

// PatternIDs lists every pattern id in the taxonomy.
func PatternIDs(cats []Category) []string {
	var ids []string
	for _, c := range cats {
		for _, p := range c.Patterns {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func parseTaxonomy(data []byte) ([]Category, error) {
	var f taxonomyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	for i := range f.Categories {
		c := &f.Categories[i]
		for j := range c.Patterns {
			if c.Patterns[j].Category == "" {
				c.Patterns[j].Category = c.ID
			}
		}
	}
	return f.Categories, nil
}
