package gesture

import (
	_ "embed"
	"fmt"
	"math/rand"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category is an expressive gesture family. The empty category means no gesture.
type Category string

const (
	None     Category = ""
	Emphasis Category = "emphasis"
	Question Category = "question"
	Explain  Category = "explain"
	Neutral  Category = "neutral"
)

//go:embed keywords.yaml
var defaultKeywords []byte

// KeywordTable is the on-disk form of the classification rules.
type KeywordTable struct {
	NeutralProbability float64 `yaml:"neutral_probability"`
	Categories         []struct {
		Name     Category `yaml:"name"`
		Keywords []string `yaml:"keywords"`
	} `yaml:"categories"`
}

type rule struct {
	category Category
	keywords []string
}

// Classifier maps a sentence fragment to a gesture category using
// first-match priority over keyword rules, falling back to a random
// neutral gesture.
type Classifier struct {
	rules    []rule
	neutralP float64
	// Chance returns a value in [0,1); defaults to math/rand.
	Chance func() float64
}

// ParseKeywords builds a classifier from a YAML keyword table.
func ParseKeywords(data []byte) (*Classifier, error) {
	var table KeywordTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse keyword table: %w", err)
	}
	if len(table.Categories) == 0 {
		return nil, fmt.Errorf("keyword table has no categories")
	}
	c := &Classifier{neutralP: table.NeutralProbability, Chance: rand.Float64}
	for _, cat := range table.Categories {
		switch cat.Name {
		case Emphasis, Question, Explain, Neutral:
		default:
			return nil, fmt.Errorf("unknown gesture category %q", cat.Name)
		}
		r := rule{category: cat.Name}
		for _, k := range cat.Keywords {
			r.keywords = append(r.keywords, strings.ToLower(k))
		}
		c.rules = append(c.rules, r)
	}
	return c, nil
}

// DefaultClassifier returns the built-in French and English keyword rules.
func DefaultClassifier() *Classifier {
	c, err := ParseKeywords(defaultKeywords)
	if err != nil {
		panic(err)
	}
	return c
}

// Match returns the first category whose keywords occur in segment, or None.
func (c *Classifier) Match(segment string) Category {
	lower := strings.ToLower(segment)
	for _, r := range c.rules {
		for _, k := range r.keywords {
			if strings.Contains(lower, k) {
				return r.category
			}
		}
	}
	return None
}

// Classify is Match with the random neutral fallback applied.
func (c *Classifier) Classify(segment string) Category {
	if cat := c.Match(segment); cat != None {
		return cat
	}
	chance := c.Chance
	if chance == nil {
		chance = rand.Float64
	}
	if chance() < c.neutralP {
		return Neutral
	}
	return None
}
