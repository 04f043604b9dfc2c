package llm

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/reveriehq/reverie/pkg/types"
)

// extractJSON pulls the first complete JSON object or array out of a model
// response. Models wrap output in markdown fences or prose despite
// instructions, so the parser strips fences and then walks the text with a
// depth counter that is string- and escape-aware. If no complete value is
// found the trimmed text is returned unchanged and the caller's unmarshal
// produces the error.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := -1
	for i, ch := range text {
		if ch == '{' || ch == '[' {
			start = i
			break
		}
	}
	if start < 0 {
		return text
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}

	return text
}

// CandidateResponse is one extracted memory candidate from the extraction
// prompt.
type CandidateResponse struct {
	Text       string   `json:"text"`
	MemoryType string   `json:"memory_type"`
	Tags       []string `json:"tags"`
	Confidence float64  `json:"confidence"`
}

// ParseCandidates parses the extraction response. Entries with blank text
// are skipped, unknown memory types fall back to fact, and confidence is
// clamped to [0, 1] with 0.5 substituted when the model omitted it.
func ParseCandidates(response string) ([]CandidateResponse, error) {
	var raw []CandidateResponse
	if err := json.Unmarshal([]byte(extractJSON(response)), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}

	candidates := make([]CandidateResponse, 0, len(raw))
	for i, c := range raw {
		c.Text = strings.TrimSpace(c.Text)
		if c.Text == "" {
			log.Printf("[llm] skipping extraction candidate %d: empty text", i)
			continue
		}

		c.MemoryType = strings.ToLower(strings.TrimSpace(c.MemoryType))
		if !types.IsValidMemoryType(c.MemoryType) {
			c.MemoryType = types.MemoryTypeFact
		}

		if c.Confidence <= 0 {
			c.Confidence = 0.5
		} else if c.Confidence > 1 {
			c.Confidence = 1
		}

		candidates = append(candidates, c)
	}

	return candidates, nil
}

// ClassificationResponse is one entry from the batched classification
// prompt.
type ClassificationResponse struct {
	Layer         string   `json:"layer"`
	MemoryType    string   `json:"memory_type"`
	Confidence    float64  `json:"confidence"`
	SuggestedTags []string `json:"suggested_tags"`
}

// ParseClassifications parses the classification response, a map of atom
// index to classification. Entries with an unparseable index or an unknown
// layer are dropped so the caller falls back to heuristic values for those
// atoms. A non-positive confidence means the model omitted it.
func ParseClassifications(response string) (map[int]ClassificationResponse, error) {
	var raw map[string]ClassificationResponse
	if err := json.Unmarshal([]byte(extractJSON(response)), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse classification response: %w", err)
	}

	classifications := make(map[int]ClassificationResponse, len(raw))
	for key, entry := range raw {
		idx, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || idx < 0 {
			log.Printf("[llm] skipping classification with bad index %q", key)
			continue
		}

		entry.Layer = strings.ToLower(strings.TrimSpace(entry.Layer))
		if !types.IsValidLayer(entry.Layer) {
			log.Printf("[llm] skipping classification %d: unknown layer %q", idx, entry.Layer)
			continue
		}

		entry.MemoryType = strings.ToLower(strings.TrimSpace(entry.MemoryType))
		if entry.MemoryType != "" && !types.IsValidMemoryType(entry.MemoryType) {
			entry.MemoryType = ""
		}

		if entry.Confidence > 1 {
			entry.Confidence = 1
		} else if entry.Confidence < 0 {
			entry.Confidence = 0
		}

		classifications[idx] = entry
	}

	return classifications, nil
}

// contradictionListResponse is the envelope the conflict prompt asks for.
type contradictionListResponse struct {
	Contradictions []int `json:"contradictions"`
}

// ParseContradictions parses the conflict-check response into the indices of
// the existing memories the candidate opposes. Negative indices are dropped;
// upper bounds are the caller's to check against its memory list.
func ParseContradictions(response string) ([]int, error) {
	var raw contradictionListResponse
	if err := json.Unmarshal([]byte(extractJSON(response)), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse conflict response: %w", err)
	}

	indices := make([]int, 0, len(raw.Contradictions))
	for _, idx := range raw.Contradictions {
		if idx < 0 {
			log.Printf("[llm] skipping contradiction with negative index %d", idx)
			continue
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

// EdgeResponse is one relationship proposed by the edge discovery prompt.
// Indices refer to the numbered atom list in the prompt.
type EdgeResponse struct {
	SourceIndex int     `json:"source_index"`
	TargetIndex int     `json:"target_index"`
	EdgeType    string  `json:"edge_type"`
	Weight      float64 `json:"weight"`
}

// ParseEdges parses the edge discovery response. Types outside the
// LLM-discoverable set are dropped, self-edges are dropped, and weight is
// clamped to [0, 1] with 0.5 substituted when missing. Index upper bounds
// are the caller's to check against its atom list.
func ParseEdges(response string) ([]EdgeResponse, error) {
	var raw []EdgeResponse
	if err := json.Unmarshal([]byte(extractJSON(response)), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse edge response: %w", err)
	}

	edges := make([]EdgeResponse, 0, len(raw))
	for i, e := range raw {
		e.EdgeType = strings.ToUpper(strings.TrimSpace(e.EdgeType))
		if !types.IsLLMEdgeType(e.EdgeType) {
			log.Printf("[llm] skipping edge %d: type %q not discoverable", i, e.EdgeType)
			continue
		}
		if e.SourceIndex < 0 || e.TargetIndex < 0 || e.SourceIndex == e.TargetIndex {
			log.Printf("[llm] skipping edge %d: bad indices %d -> %d", i, e.SourceIndex, e.TargetIndex)
			continue
		}

		if e.Weight <= 0 {
			e.Weight = 0.5
		} else if e.Weight > 1 {
			e.Weight = 1
		}

		edges = append(edges, e)
	}

	return edges, nil
}

// EntityResponse is one entity mention from the recognition prompt.
type EntityResponse struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Aliases []string `json:"aliases"`
}

type entityListResponse struct {
	Entities []EntityResponse `json:"entities"`
}

// ParseEntities parses the entity recognition response. Nameless entries
// are skipped and unknown types fall back to concept.
func ParseEntities(response string) ([]EntityResponse, error) {
	var raw entityListResponse
	if err := json.Unmarshal([]byte(extractJSON(response)), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse entity response: %w", err)
	}

	entities := make([]EntityResponse, 0, len(raw.Entities))
	for i, e := range raw.Entities {
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			log.Printf("[llm] skipping entity %d: empty name", i)
			continue
		}

		e.Type = strings.ToLower(strings.TrimSpace(e.Type))
		if !types.IsValidEntityType(e.Type) {
			e.Type = types.EntityTypeConcept
		}

		entities = append(entities, e)
	}

	return entities, nil
}

// ReviewResponse is the verdict from the promotion review prompt.
type ReviewResponse struct {
	ShouldPromote bool   `json:"should_promote"`
	Reason        string `json:"reason"`
}

// ParseReview parses a promotion review response.
func ParseReview(response string) (*ReviewResponse, error) {
	var review ReviewResponse
	if err := json.Unmarshal([]byte(extractJSON(response)), &review); err != nil {
		return nil, fmt.Errorf("failed to parse review response: %w", err)
	}
	return &review, nil
}
