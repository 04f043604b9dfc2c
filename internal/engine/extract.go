package engine

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"unicode"

	"github.com/reveriehq/reverie/internal/llm"
	"github.com/reveriehq/reverie/internal/usage"
	"github.com/reveriehq/reverie/pkg/types"
)

// minAtomChars is the floor below which a sentence or LLM-returned text is
// too short to be a meaningful memory atom.
const minAtomChars = 10

// truncationMarker is appended when a transcript is cut to the configured
// bound before prompting.
const truncationMarker = "\n...[transcript truncated]"

// factPattern matches the copula-plus-article shape of plain declarative
// facts ("X is a Y", "they were the Z").
var factPattern = regexp.MustCompile(`\b(is|are|was|were)\s+(a|an|the)\b`)

// Cue phrase lists for the heuristic extraction rules, checked in priority
// order. All matching is done on the lowercased sentence.
var (
	preferenceCues = []string{"prefer", "favorite", "favourite", "i like", "i love", "i hate", "i enjoy", "would rather", "can't stand"}
	decisionCues   = []string{"decided", "decision", "we chose", "i chose", "agreed to", "going to use", "will use", "settled on", "opted for"}
	noteCues       = []string{"remember", "note that", "important", "don't forget", "keep in mind", "make sure"}
)

// ExtractStage turns a raw conversation transcript into candidate memory
// atoms. The heuristic path splits the transcript into sentences and keeps
// the ones matching an extraction rule; the LLM path asks the model for a
// bounded JSON array of atoms and falls back to the heuristic on any failure.
type ExtractStage struct {
	generator llm.TextGenerator
}

// NewExtractStage returns the extraction stage. A nil generator disables the
// LLM path regardless of settings.
func NewExtractStage(generator llm.TextGenerator) *ExtractStage {
	return &ExtractStage{generator: generator}
}

func (s *ExtractStage) Name() string { return StageExtract }

// Run populates pc.ExtractedAtoms. An empty transcript is a benign no-op.
func (s *ExtractStage) Run(ctx context.Context, pc *PipelineContext) error {
	transcript := strings.TrimSpace(pc.Transcript)
	if transcript == "" {
		log.Printf("[extract] job %s: empty transcript, nothing to extract", pc.JobID)
		return nil
	}

	var atoms []*types.CandidateMemory
	var processed int

	if pc.Settings.UseLLMExtraction && s.generator != nil {
		llmAtoms, llmProcessed, err := s.extractLLM(ctx, pc, transcript)
		if err != nil {
			log.Printf("[extract] job %s: llm extraction failed, using heuristics: %v", pc.JobID, err)
			pc.AddStat("extract_llm_failed", 1)
			atoms, processed = s.extractHeuristic(transcript, pc.Settings.MaxCandidates)
		} else {
			atoms, processed = llmAtoms, llmProcessed
		}
	} else {
		atoms, processed = s.extractHeuristic(transcript, pc.Settings.MaxCandidates)
	}

	pc.ExtractedAtoms = atoms
	pc.AddStat("extract_processed", int64(processed))
	pc.AddStat("extract_created", int64(len(atoms)))
	return nil
}

// extractHeuristic applies the rule cascade to each sentence. Returns the
// kept atoms and the number of sentences examined.
func (s *ExtractStage) extractHeuristic(transcript string, maxCandidates int) ([]*types.CandidateMemory, int) {
	sentences := splitSentences(transcript)
	atoms := make([]*types.CandidateMemory, 0, len(sentences))
	for _, sentence := range sentences {
		memoryType, confidence, ok := classifySentence(sentence)
		if !ok {
			continue
		}
		atoms = append(atoms, &types.CandidateMemory{
			Text:       sentence,
			MemoryType: memoryType,
			Tags:       significantWords(sentence, 3),
			Confidence: confidence,
			SourceText: sentence,
		})
		if len(atoms) >= maxCandidates {
			break
		}
	}
	return atoms, len(sentences)
}

// extractLLM prompts for a JSON array of atoms. Returns the kept atoms and
// the number of parsed entries examined.
func (s *ExtractStage) extractLLM(ctx context.Context, pc *PipelineContext, transcript string) ([]*types.CandidateMemory, int, error) {
	if max := pc.Settings.MaxTranscriptChars; len(transcript) > max {
		transcript = transcript[:max] + truncationMarker
	}

	span := pc.Usage.Begin(usage.OpCompletion, pc.AgentID, pc.JobID, StageExtract)
	response, err := s.generator.Complete(ctx, llm.BuildExtractionPrompt(transcript))
	span.End(err)
	if err != nil {
		return nil, 0, fmt.Errorf("completion: %w", err)
	}

	parsed, err := llm.ParseCandidates(response)
	if err != nil {
		return nil, 0, fmt.Errorf("parse: %w", err)
	}

	atoms := make([]*types.CandidateMemory, 0, len(parsed))
	for _, c := range parsed {
		text := strings.TrimSpace(c.Text)
		if len(text) <= minAtomChars {
			continue
		}
		atoms = append(atoms, &types.CandidateMemory{
			Text:       text,
			MemoryType: c.MemoryType,
			Tags:       types.MergeTags(c.Tags, types.TagLLMExtracted),
			Confidence: c.Confidence,
		})
		if len(atoms) >= pc.Settings.MaxCandidates {
			break
		}
	}
	return atoms, len(parsed), nil
}

// classifySentence applies the extraction rules in priority order and returns
// the proposed type and confidence, or ok=false when no rule matches.
func classifySentence(sentence string) (memoryType string, confidence float64, ok bool) {
	lower := strings.ToLower(sentence)
	switch {
	case containsAny(lower, preferenceCues):
		return types.MemoryTypePreference, 0.75, true
	case containsAny(lower, decisionCues):
		return types.MemoryTypeDecision, 0.85, true
	case containsAny(lower, noteCues):
		return types.MemoryTypeObservation, 0.8, true
	case factPattern.MatchString(lower):
		return types.MemoryTypeFact, 0.6, true
	}
	return "", 0, false
}

// splitSentences breaks a transcript on sentence terminators and newlines,
// dropping fragments at or below the minimum atom length.
func splitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len(p) > minAtomChars {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

// significantWords returns up to max lowercased content words (4+ letters,
// not stopwords) in order of first appearance, for use as heuristic tags.
func significantWords(sentence string, max int) []string {
	words := strings.FieldsFunc(sentence, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	out := make([]string, 0, max)
	for _, w := range words {
		w = strings.ToLower(w)
		if len(w) < 4 || isStopword(w) || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) >= max {
			break
		}
	}
	return out
}

// containsAny reports whether s contains any of the cue phrases.
func containsAny(s string, cues []string) bool {
	for _, cue := range cues {
		if strings.Contains(s, cue) {
			return true
		}
	}
	return false
}
