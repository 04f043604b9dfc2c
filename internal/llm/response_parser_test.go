package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reveriehq/reverie/pkg/types"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain object",
			input: `{"a": 1}`,
			want:  `{"a": 1}`,
		},
		{
			name:  "plain array",
			input: `[{"a": 1}, {"b": 2}]`,
			want:  `[{"a": 1}, {"b": 2}]`,
		},
		{
			name:  "markdown fence",
			input: "```json\n{\"a\": 1}\n```",
			want:  `{"a": 1}`,
		},
		{
			name:  "bare fence",
			input: "```\n[1, 2]\n```",
			want:  `[1, 2]`,
		},
		{
			name:  "prose around object",
			input: `Here is the result: {"a": {"b": 2}} hope that helps!`,
			want:  `{"a": {"b": 2}}`,
		},
		{
			name:  "prose around array",
			input: `The relationships are: [{"source_index": 0}] as requested.`,
			want:  `[{"source_index": 0}]`,
		},
		{
			name:  "braces inside strings",
			input: `{"text": "use {curly} and \"quoted\" forms"}`,
			want:  `{"text": "use {curly} and \"quoted\" forms"}`,
		},
		{
			name:  "no json at all",
			input: "I cannot answer that.",
			want:  "I cannot answer that.",
		},
		{
			name:  "unterminated object returned as-is",
			input: `{"a": 1`,
			want:  `{"a": 1`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.input))
		})
	}
}

func TestParseCandidates(t *testing.T) {
	response := `[
		{"text": "The user prefers dark mode", "memory_type": "preference", "tags": ["ui"], "confidence": 0.85},
		{"text": "   ", "memory_type": "fact", "confidence": 0.9},
		{"text": "The service runs on port 8080", "memory_type": "banana", "confidence": 1.7},
		{"text": "The team uses trunk-based development", "memory_type": "observation"}
	]`

	candidates, err := ParseCandidates(response)
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	assert.Equal(t, "The user prefers dark mode", candidates[0].Text)
	assert.Equal(t, types.MemoryTypePreference, candidates[0].MemoryType)
	assert.InDelta(t, 0.85, candidates[0].Confidence, 1e-9)

	// Unknown type falls back to fact, confidence clamps to 1.
	assert.Equal(t, types.MemoryTypeFact, candidates[1].MemoryType)
	assert.InDelta(t, 1.0, candidates[1].Confidence, 1e-9)

	// Omitted confidence gets the neutral default.
	assert.InDelta(t, 0.5, candidates[2].Confidence, 1e-9)
}

func TestParseCandidatesFenced(t *testing.T) {
	response := "```json\n[{\"text\": \"Deploys happen on Fridays\", \"memory_type\": \"fact\", \"confidence\": 0.6}]\n```"

	candidates, err := ParseCandidates(response)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "Deploys happen on Fridays", candidates[0].Text)
}

func TestParseCandidatesNotAnArray(t *testing.T) {
	_, err := ParseCandidates(`{"text": "not an array"}`)
	assert.Error(t, err)
}

func TestParseClassifications(t *testing.T) {
	response := `{
		"0": {"layer": "Semantic", "memory_type": "preference", "confidence": 0.9, "suggested_tags": ["ui"]},
		"1": {"layer": "nonsense"},
		"2": {"layer": "episodic", "memory_type": "banana"},
		"weird": {"layer": "episodic"}
	}`

	classifications, err := ParseClassifications(response)
	require.NoError(t, err)
	require.Len(t, classifications, 2)

	first, ok := classifications[0]
	require.True(t, ok)
	assert.Equal(t, types.LayerSemantic, first.Layer)
	assert.Equal(t, types.MemoryTypePreference, first.MemoryType)
	assert.Equal(t, []string{"ui"}, first.SuggestedTags)

	// Bad layer and bad key entries are dropped; an invalid refinement type
	// is cleared but the entry survives.
	_, ok = classifications[1]
	assert.False(t, ok)

	third, ok := classifications[2]
	require.True(t, ok)
	assert.Equal(t, types.LayerEpisodic, third.Layer)
	assert.Empty(t, third.MemoryType)
}

func TestParseEdges(t *testing.T) {
	response := `[
		{"source_index": 0, "target_index": 2, "edge_type": "supports", "weight": 0.7},
		{"source_index": 1, "target_index": 1, "edge_type": "CAUSES", "weight": 0.9},
		{"source_index": 0, "target_index": 1, "edge_type": "DERIVES_FROM", "weight": 0.8},
		{"source_index": 2, "target_index": 0, "edge_type": "ELABORATES"}
	]`

	edges, err := ParseEdges(response)
	require.NoError(t, err)
	require.Len(t, edges, 2)

	// Types are upcased; heuristic-only types and self-edges are dropped.
	assert.Equal(t, types.EdgeSupports, edges[0].EdgeType)
	assert.InDelta(t, 0.7, edges[0].Weight, 1e-9)

	// Missing weight defaults to 0.5.
	assert.Equal(t, types.EdgeElaborates, edges[1].EdgeType)
	assert.InDelta(t, 0.5, edges[1].Weight, 1e-9)
}

func TestParseEntities(t *testing.T) {
	response := `{"entities": [
		{"name": "PostgreSQL", "type": "system", "aliases": ["postgres"]},
		{"name": "", "type": "person"},
		{"name": "Project Atlas", "type": "spaceship"}
	]}`

	entities, err := ParseEntities(response)
	require.NoError(t, err)
	require.Len(t, entities, 2)

	assert.Equal(t, "PostgreSQL", entities[0].Name)
	assert.Equal(t, types.EntityTypeSystem, entities[0].Type)
	assert.Equal(t, []string{"postgres"}, entities[0].Aliases)

	// Unknown entity type falls back to concept.
	assert.Equal(t, types.EntityTypeConcept, entities[1].Type)
}

func TestParseReview(t *testing.T) {
	review, err := ParseReview("```json\n{\"should_promote\": true, \"reason\": \"stable preference\"}\n```")
	require.NoError(t, err)
	assert.True(t, review.ShouldPromote)
	assert.Equal(t, "stable preference", review.Reason)

	_, err = ParseReview("no json here")
	assert.Error(t, err)
}

func TestParseContradictions(t *testing.T) {
	indices, err := ParseContradictions(`{"contradictions": [1, 4]}`)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4}, indices)

	// Negative indices are dropped, the rest survive.
	indices, err = ParseContradictions(`{"contradictions": [-1, 2]}`)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, indices)

	indices, err = ParseContradictions(`{"contradictions": []}`)
	require.NoError(t, err)
	assert.Empty(t, indices)

	_, err = ParseContradictions("the statements are compatible")
	assert.Error(t, err)
}
