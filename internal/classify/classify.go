// Package classify tags catalog items with categories by keyword matching.
package classify

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed categories.yaml
var defaultTable []byte

// ErrEmptyTable is returned for tables without categories or fallback.
var ErrEmptyTable = errors.New("category table is empty")

// Category is one entry of the table.
type Category struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Table is an ordered category→keywords mapping with a fallback category.
type Table struct {
	Fallback   string     `yaml:"fallback"`
	Categories []Category `yaml:"categories"`

	patterns [][]*regexp.Regexp
}

// Default returns the built-in table.
func Default() *Table {
	t, err := Parse(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("embedded category table: %v", err))
	}
	return t
}

// Load reads a table from a YAML file. An empty path returns the built-in table.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read category table: %w", err)
	}
	return Parse(data)
}

// Parse decodes and compiles a YAML table.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse category table: %w", err)
	}
	if t.Fallback == "" || len(t.Categories) == 0 {
		return nil, ErrEmptyTable
	}

	t.patterns = make([][]*regexp.Regexp, len(t.Categories))
	for i, c := range t.Categories {
		if c.Name == "" {
			return nil, fmt.Errorf("category %d has no name", i)
		}
		for _, kw := range c.Keywords {
			kw = strings.TrimSpace(strings.ToLower(kw))
			if kw == "" {
				continue
			}
			// Keywords match at a word start so "ai" does not match "email".
			re, err := regexp.Compile(`\b` + regexp.QuoteMeta(kw))
			if err != nil {
				return nil, fmt.Errorf("category %s keyword %q: %w", c.Name, kw, err)
			}
			t.patterns[i] = append(t.patterns[i], re)
		}
	}
	return &t, nil
}

// Classify returns the categories matching text, in table order. It never
// returns an empty slice: unmatched text gets the fallback category.
func (t *Table) Classify(text string) []string {
	text = strings.ToLower(text)
	var out []string
	for i, c := range t.Categories {
		for _, re := range t.patterns[i] {
			if re.MatchString(text) {
				out = append(out, c.Name)
				break
			}
		}
	}
	if len(out) == 0 {
		return []string{t.Fallback}
	}
	return out
}

// Names returns every category name including the fallback.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.Categories)+1)
	for _, c := range t.Categories {
		names = append(names, c.Name)
	}
	return append(names, t.Fallback)
}
