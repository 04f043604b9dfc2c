package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildExtractionPrompt(t *testing.T) {
	prompt := BuildExtractionPrompt("user: I switched the team to trunk-based development")

	assert.Contains(t, prompt, "trunk-based development")
	assert.Contains(t, prompt, "ONLY valid JSON")
}

func TestBuildConflictPrompt(t *testing.T) {
	prompt := BuildConflictPrompt("The user now prefers light mode", []string{
		"The user prefers dark mode",
		"The user works in Go",
	})

	assert.Contains(t, prompt, "The user now prefers light mode")
	assert.Contains(t, prompt, "0. The user prefers dark mode")
	assert.Contains(t, prompt, "1. The user works in Go")
}

func TestBuildClassificationPrompt(t *testing.T) {
	prompt := BuildClassificationPrompt([]ClassificationAtom{
		{Text: "Deploys happen on Fridays", MemoryType: "fact", Tags: []string{"deploys", "schedule"}},
		{Text: "The user dislikes standups", MemoryType: "preference"},
	})

	assert.Contains(t, prompt, "0. [fact] Deploys happen on Fridays (tags: deploys, schedule)")
	assert.Contains(t, prompt, "1. [preference] The user dislikes standups\n")
}

func TestBuildEdgeDiscoveryPrompt(t *testing.T) {
	prompt := BuildEdgeDiscoveryPrompt([]string{
		"The on-call rotation moved to weekly",
		"Alert fatigue dropped after the rotation change",
	})

	assert.Contains(t, prompt, "0. The on-call rotation moved to weekly")
	assert.Contains(t, prompt, "1. Alert fatigue dropped")
	for _, edgeType := range []string{"CAUSES", "SUPPORTS", "CONTEXT_OF", "SUPERSEDES", "ELABORATES"} {
		assert.Contains(t, prompt, edgeType)
	}
}

func TestBuildEntityPrompt(t *testing.T) {
	prompt := BuildEntityPrompt("Sarah moved the Apollo project to PostgreSQL", []string{"Apollo", "PostgreSQL"})
	assert.Contains(t, prompt, "Sarah moved the Apollo project")
	assert.Contains(t, prompt, "Apollo, PostgreSQL")

	prompt = BuildEntityPrompt("nothing named here", nil)
	assert.Contains(t, prompt, "none yet")
}

func TestBuildReviewPrompt(t *testing.T) {
	prompt := BuildReviewPrompt("The team standardized on Go 1.24", "episodic", "semantic", 0.72, 0.81, 4, 21, 0)

	assert.Contains(t, prompt, "from the episodic layer to the semantic layer")
	assert.Contains(t, prompt, "The team standardized on Go 1.24")
	assert.Contains(t, prompt, "confidence: 0.72")
	assert.Contains(t, prompt, "reinforcement count: 4")
	assert.Contains(t, prompt, "age in days: 21")
	assert.NotContains(t, prompt, "%!", "all format verbs consumed")
}
