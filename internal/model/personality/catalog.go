package personality

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// QuestionCount is the size of the personality questionnaire.
const QuestionCount = 50

//go:embed questions.yaml
var questionsYAML []byte

// Question is one item of the personality questionnaire.
type Question struct {
	ID       string `yaml:"id" json:"id"`
	Category string `yaml:"-" json:"category"`
	Text     string `yaml:"text" json:"text"`
}

// Category groups questions under a display label.
type Category struct {
	Key       string     `yaml:"key" json:"key"`
	Label     string     `yaml:"label" json:"label"`
	Questions []Question `yaml:"questions" json:"questions"`
}

// Catalog is the fixed questionnaire, in display order.
type Catalog struct {
	Categories []Category `yaml:"categories" json:"categories"`
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// DefaultCatalog returns the embedded 50-question catalog.
func DefaultCatalog() *Catalog {
	defaultOnce.Do(func() {
		c, err := ParseCatalog(questionsYAML)
		if err != nil {
			panic(fmt.Sprintf("personality: embedded catalog: %v", err))
		}
		if n := len(c.Questions()); n != QuestionCount {
			panic(fmt.Sprintf("personality: embedded catalog has %d questions, want %d", n, QuestionCount))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// ParseCatalog decodes a YAML catalog and rejects duplicate or empty ids.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	seen := make(map[string]struct{})
	for ci := range c.Categories {
		cat := &c.Categories[ci]
		for qi := range cat.Questions {
			q := &cat.Questions[qi]
			q.ID = strings.TrimSpace(q.ID)
			if q.ID == "" {
				return nil, fmt.Errorf("category %s: question %d has no id", cat.Key, qi+1)
			}
			if _, dup := seen[q.ID]; dup {
				return nil, fmt.Errorf("duplicate question id %s", q.ID)
			}
			seen[q.ID] = struct{}{}
			q.Category = cat.Label
		}
	}
	return &c, nil
}

// Questions flattens the catalog in display order.
func (c *Catalog) Questions() []Question {
	var out []Question
	for _, cat := range c.Categories {
		out = append(out, cat.Questions...)
	}
	return out
}

// Has reports whether id belongs to the catalog.
func (c *Catalog) Has(id string) bool {
	for _, cat := range c.Categories {
		for _, q := range cat.Questions {
			if q.ID == id {
				return true
			}
		}
	}
	return false
}

// IsComplete is true only when every question has a non-blank answer.
func (c *Catalog) IsComplete(answers map[string]string) bool {
	answered, total := c.Progress(answers)
	return total > 0 && answered == total
}

// Progress counts answered questions against the catalog size.
func (c *Catalog) Progress(answers map[string]string) (answered, total int) {
	for _, cat := range c.Categories {
		for _, q := range cat.Questions {
			total++
			if strings.TrimSpace(answers[q.ID]) != "" {
				answered++
			}
		}
	}
	return answered, total
}
