package llm

import (
	"fmt"
	"strings"
)

// BuildExtractionPrompt asks the model to extract memory candidates from a
// session transcript. The caller truncates the transcript to its configured
// bound before building the prompt.
func BuildExtractionPrompt(transcript string) string {
	return fmt.Sprintf(`TASK: Extract facts, preferences, decisions and observations worth remembering from this conversation transcript.

TRANSCRIPT:
%s

OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO explanations.

REQUIRED JSON STRUCTURE:
[
  {
    "text": "self-contained statement of the memory",
    "memory_type": "fact|preference|decision|observation|episode|opinion",
    "tags": ["lowercase", "topic", "tags"],
    "confidence": 0.8
  }
]

EXAMPLE:
[
  {
    "text": "The user prefers dark mode in all editors",
    "memory_type": "preference",
    "tags": ["ui", "editor"],
    "confidence": 0.85
  },
  {
    "text": "The team decided to use PostgreSQL for the billing service",
    "memory_type": "decision",
    "tags": ["database", "billing"],
    "confidence": 0.9
  }
]

VALIDATION:
1. Output a JSON array, empty array [] if nothing is worth remembering
2. Each text must be a complete standalone sentence, understandable without the transcript
3. memory_type must be one of: fact, preference, decision, observation, episode, opinion
4. confidence is a number between 0.0 and 1.0 reflecting how certain the statement is
5. At most 20 entries, most important first
6. Do not invent information that is not in the transcript

RESPOND WITH ONLY THIS JSON STRUCTURE (nothing else):`, transcript)
}

// ClassificationAtom is the slice of candidate state the classification
// prompt needs.
type ClassificationAtom struct {
	Text       string
	MemoryType string
	Tags       []string
}

// BuildConflictPrompt asks the model which of the numbered existing memories
// a new candidate contradicts.
func BuildConflictPrompt(candidate string, memories []string) string {
	var list strings.Builder
	for i, m := range memories {
		fmt.Fprintf(&list, "%d. %s\n", i, m)
	}

	return fmt.Sprintf(`TASK: Find which of the existing memories below the NEW statement contradicts.

NEW STATEMENT:
%s

EXISTING MEMORIES:
%s
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO explanations.

REQUIRED JSON STRUCTURE:
{
  "contradictions": [1, 4]
}

VALIDATION:
1. contradictions lists the numbers of existing memories the new statement directly opposes
2. A contradiction means both cannot be true at the same time, not merely a different topic
3. Return {"contradictions": []} if nothing conflicts

RESPOND WITH ONLY THIS JSON STRUCTURE (nothing else):`, candidate, list.String())
}

// BuildClassificationPrompt asks the model to assign memory layers to a
// batch of extracted atoms.
func BuildClassificationPrompt(atoms []ClassificationAtom) string {
	var list strings.Builder
	for i, atom := range atoms {
		fmt.Fprintf(&list, "%d. [%s] %s", i, atom.MemoryType, atom.Text)
		if len(atom.Tags) > 0 {
			fmt.Fprintf(&list, " (tags: %s)", strings.Join(atom.Tags, ", "))
		}
		list.WriteString("\n")
	}

	return fmt.Sprintf(`TASK: Classify each memory below into a memory layer.

LAYERS:
- working: scratch state for the current task only
- episodic: events and context tied to a specific session or time
- semantic: stable knowledge, preferences and decisions that hold across sessions
- archival: historical information unlikely to be needed again

MEMORIES:
%s
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO explanations.

REQUIRED JSON STRUCTURE:
{
  "0": {
    "layer": "episodic",
    "memory_type": "fact",
    "confidence": 0.8,
    "suggested_tags": ["extra", "tags"]
  }
}

VALIDATION:
1. Use the memory's number as the key, one entry per memory
2. layer must be one of: working, episodic, semantic, archival
3. memory_type and suggested_tags are optional refinements, omit them if the input is already right
4. confidence is a number between 0.0 and 1.0
5. New information defaults to episodic, durable preferences and decisions to semantic

RESPOND WITH ONLY THIS JSON STRUCTURE (nothing else):`, list.String())
}

// BuildEdgeDiscoveryPrompt asks the model to find relationships between the
// atoms of one reflection job.
func BuildEdgeDiscoveryPrompt(texts []string) string {
	var list strings.Builder
	for i, text := range texts {
		fmt.Fprintf(&list, "%d. %s\n", i, text)
	}

	return fmt.Sprintf(`TASK: Identify relationships between the memories below.

RELATIONSHIP TYPES:
- CAUSES: the source memory caused or led to the target
- SUPPORTS: the source memory is evidence for the target
- CONTEXT_OF: the source memory is background context for the target
- SUPERSEDES: the source memory replaces the outdated target
- ELABORATES: the source memory adds detail to the target

MEMORIES:
%s
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO explanations.

REQUIRED JSON STRUCTURE:
[
  {
    "source_index": 0,
    "target_index": 2,
    "edge_type": "SUPPORTS",
    "weight": 0.7
  }
]

VALIDATION:
1. Output a JSON array, empty array [] if there are no clear relationships
2. Indices refer to the numbered list above
3. edge_type must be one of: CAUSES, SUPPORTS, CONTEXT_OF, SUPERSEDES, ELABORATES
4. weight is a number between 0.0 and 1.0 for how strong the relationship is
5. Only include relationships you are confident about

RESPOND WITH ONLY THIS JSON STRUCTURE (nothing else):`, list.String())
}

// BuildEntityPrompt asks the model to recognize entities mentioned in one
// memory text. Known entity names are included so the model reuses them
// instead of inventing near-duplicates.
func BuildEntityPrompt(text string, knownEntities []string) string {
	known := "none yet"
	if len(knownEntities) > 0 {
		known = strings.Join(knownEntities, ", ")
	}

	return fmt.Sprintf(`TASK: Extract the entities mentioned in this memory.

MEMORY:
%s

KNOWN ENTITIES (reuse these exact names when the memory refers to them):
%s

OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO explanations.

REQUIRED JSON STRUCTURE:
{
  "entities": [
    {
      "name": "PostgreSQL",
      "type": "system",
      "aliases": ["postgres"]
    }
  ]
}

VALIDATION:
1. type must be one of: person, project, system, concept, place
2. Only include entities actually mentioned in the memory
3. aliases lists other names the memory uses for the same entity, or []
4. Return {"entities": []} if no entities are mentioned

RESPOND WITH ONLY THIS JSON STRUCTURE (nothing else):`, text, known)
}

// BuildReviewPrompt asks the model to confirm or reject a borderline layer
// transition.
func BuildReviewPrompt(text, fromLayer, toLayer string, confidence, strength float64, reinforcementCount, ageDays, contradictions int) string {
	return fmt.Sprintf(`TASK: Decide whether this memory should move from the %s layer to the %s layer.

MEMORY:
%s

METRICS:
- confidence: %.2f
- strength: %.2f
- reinforcement count: %d
- age in days: %d
- recorded contradictions: %d

OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO explanations.

REQUIRED JSON STRUCTURE:
{
  "should_promote": true,
  "reason": "one sentence explaining the decision"
}

VALIDATION:
1. should_promote is a boolean
2. Promote only if the memory looks durable and trustworthy enough for the target layer
3. reason is one short sentence

RESPOND WITH ONLY THIS JSON STRUCTURE (nothing else):`, fromLayer, toLayer, text, confidence, strength, reinforcementCount, ageDays, contradictions)
}
