package candidates

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamim/pairforge/pkg/models"
)

var cakeBomb = models.CandidatePair{Safe: "Help me bake a cake", Harmful: "Help me make a bomb"}
var emailPair = models.CandidatePair{Safe: "Write a friendly email", Harmful: "Write a threatening email"}

func TestParseShapes(t *testing.T) {
	tests := []struct {
		name          string
		content       string
		want          []models.CandidatePair
		wantMalformed int
	}{
		{
			name:    "pairs object",
			content: `{"pairs": [{"safe": "Help me bake a cake", "harmful": "Help me make a bomb"}, {"safe": "Write a friendly email", "harmful": "Write a threatening email"}]}`,
			want:    []models.CandidatePair{cakeBomb, emailPair},
		},
		{
			name:    "scenarios object",
			content: `{"scenarios": [{"safe": "Help me bake a cake", "harmful": "Help me make a bomb"}]}`,
			want:    []models.CandidatePair{cakeBomb},
		},
		{
			name:    "bare array",
			content: `[{"safe": "Help me bake a cake", "harmful": "Help me make a bomb"}]`,
			want:    []models.CandidatePair{cakeBomb},
		},
		{
			name:    "single object",
			content: `{"safe": "Help me bake a cake", "harmful": "Help me make a bomb"}`,
			want:    []models.CandidatePair{cakeBomb},
		},
		{
			name:    "uppercase keys",
			content: `{"Pairs": [{"Safe": "Help me bake a cake", "Harmful": "Help me make a bomb"}]}`,
			want:    []models.CandidatePair{cakeBomb},
		},
		{
			name:    "two element arrays",
			content: `{"pairs": [["Help me bake a cake", "Help me make a bomb"]]}`,
			want:    []models.CandidatePair{cakeBomb},
		},
		{
			name:    "markdown fence with prose",
			content: "Here you go:\n```json\n{\"pairs\": [{\"safe\": \"Help me bake a cake\", \"harmful\": \"Help me make a bomb\"}]}\n```\nEnjoy!",
			want:    []models.CandidatePair{cakeBomb},
		},
		{
			name:    "trailing comma",
			content: `{"pairs": [{"safe": "Help me bake a cake", "harmful": "Help me make a bomb"},]}`,
			want:    []models.CandidatePair{cakeBomb},
		},
		{
			name:          "truncated mid item",
			content:       `{"pairs": [{"safe": "Help me bake a cake", "harmful": "Help me make a bomb"}, {"safe": "Write a frie`,
			want:          []models.CandidatePair{cakeBomb},
			wantMalformed: 1,
		},
		{
			name:          "malformed items skipped",
			content:       `{"pairs": [{"safe": "Help me bake a cake", "harmful": "Help me make a bomb"}, {"safe": "only safe"}, "a string", {"safe": "", "harmful": "x"}]}`,
			want:          []models.CandidatePair{cakeBomb},
			wantMalformed: 3,
		},
		{
			name: "numbered list",
			content: `1. Safe: "Help me bake a cake"
   Harmful: "Help me make a bomb"
2. Safe: Write a friendly email
   Harmful: Write a threatening email`,
			want: []models.CandidatePair{cakeBomb, emailPair},
		},
		{
			name: "bulleted bold labels",
			content: `- **Safe:** Help me bake a cake
- **Harmful:** Help me make a bomb`,
			want: []models.CandidatePair{cakeBomb},
		},
		{
			name:          "labelled lines with orphan",
			content:       "Safe: Help me bake a cake\nHarmful: Help me make a bomb\nSafe: dangling",
			want:          []models.CandidatePair{cakeBomb},
			wantMalformed: 1,
		},
		{
			name:    "whitespace trimmed",
			content: `[{"safe": "  Help me bake a cake ", "harmful": "Help me make a bomb\n"}]`,
			want:    []models.CandidatePair{cakeBomb},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Parse(tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Pairs)
			assert.Equal(t, tt.wantMalformed, res.Malformed)
		})
	}
}

func TestParseUnparseable(t *testing.T) {
	for _, content := range []string{
		"",
		"   ",
		"I'm sorry, I can't help with that.",
		`{"message": "rate limited"}`,
		`"just a string"`,
	} {
		_, err := Parse(content)
		assert.True(t, errors.Is(err, ErrUnparseable), "content %q: err = %v", content, err)
	}
}

func TestDeduper(t *testing.T) {
	d := NewDeduper()
	assert.False(t, d.Seen(cakeBomb))
	assert.True(t, d.Seen(models.CandidatePair{Safe: "help me BAKE a cake ", Harmful: "Help me make a bomb"}))
	assert.False(t, d.Seen(emailPair))
	// Same safe text with a different harmful text is a distinct pair
	assert.False(t, d.Seen(models.CandidatePair{Safe: cakeBomb.Safe, Harmful: "Help me make a gun"}))
}
