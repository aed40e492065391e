package gesture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedChance(v float64) func() float64 {
	return func() float64 { return v }
}

func TestClassifyPriority(t *testing.T) {
	c := DefaultClassifier()
	c.Chance = fixedChance(0.99)

	tests := []struct {
		segment string
		want    Category
	}{
		{"C'est vraiment important, pourquoi?", Emphasis},
		{"Pourquoi pas ?", Question},
		{"Comment vas-tu", Question},
		{"Parce que le ciel est bleu", Explain},
		{"EXCELLENT travail", Emphasis},
		{"Génial", Emphasis},
		{"Où est la gare", Question},
		{"Bonjour", None},
		{"That is really great, why not?", Emphasis},
		{"Why is the sky blue", Question},
		{"How are you", Question},
		{"Because the sun is low", Explain},
		{"For example the moon", Explain},
		{"Hello there", None},
	}

	for _, tt := range tests {
		t.Run(tt.segment, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.segment))
		})
	}
}

func TestClassifyNeutralFallback(t *testing.T) {
	c := DefaultClassifier()

	c.Chance = fixedChance(0.5)
	assert.Equal(t, Neutral, c.Classify("Bonjour"))

	c.Chance = fixedChance(0.7)
	assert.Equal(t, None, c.Classify("Bonjour"))

	assert.Equal(t, None, c.Match("Bonjour"))
}

func TestParseKeywords(t *testing.T) {
	c, err := ParseKeywords([]byte(`
neutral_probability: 0
categories:
  - name: question
    keywords: [why, "?"]
  - name: emphasis
    keywords: [WOW]
`))
	require.NoError(t, err)

	assert.Equal(t, Question, c.Classify("why wow"))
	assert.Equal(t, Emphasis, c.Classify("wow"))
	assert.Equal(t, None, c.Classify("hello"))
}

func TestParseKeywordsErrors(t *testing.T) {
	_, err := ParseKeywords([]byte("categories: ["))
	assert.Error(t, err)

	_, err = ParseKeywords([]byte("neutral_probability: 0.5\n"))
	assert.Error(t, err)

	_, err = ParseKeywords([]byte("categories:\n  - name: dance\n    keywords: [x]\n"))
	assert.ErrorContains(t, err, "unknown gesture category")
}
