package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/reveriehq/reverie/internal/llm"
	"github.com/reveriehq/reverie/internal/storage"
	"github.com/reveriehq/reverie/internal/usage"
	"github.com/reveriehq/reverie/pkg/types"
)

const (
	mentionsWeight      = 1.0
	mentionsProbability = 0.95
)

// capitalizedPhrase matches runs of capitalized words, the surface shape of
// names in prose ("Sarah Chen", "MongoDB Atlas").
var capitalizedPhrase = regexp.MustCompile(`\b[A-Z][A-Za-z0-9]*(?:\s+[A-Z][A-Za-z0-9]*)*\b`)

// mention is one entity reference found in a memory's text.
type mention struct {
	Name    string
	Type    string
	Aliases []string
}

// EntityUpdateStage maintains the per-agent entity collection. Each memory
// created by the run is mined for mentions; every mention upserts the entity
// by slug and stages a MENTIONS_ENTITY edge from the memory to it. New
// entities get a summary embedding so they can be found semantically.
type EntityUpdateStage struct {
	entities  storage.EntityStore
	edges     storage.EdgeStore
	generator llm.TextGenerator
	embedder  llm.EmbeddingGenerator
}

// NewEntityUpdateStage returns the entity stage. A nil generator disables
// the NER path; a nil embedder disables summary embeddings.
func NewEntityUpdateStage(entities storage.EntityStore, edges storage.EdgeStore, generator llm.TextGenerator, embedder llm.EmbeddingGenerator) *EntityUpdateStage {
	return &EntityUpdateStage{entities: entities, edges: edges, generator: generator, embedder: embedder}
}

func (s *EntityUpdateStage) Name() string { return StageEntityUpdate }

// Run extracts and upserts entity mentions for pc.ClassifiedAtoms.
func (s *EntityUpdateStage) Run(ctx context.Context, pc *PipelineContext) error {
	atoms := pc.ClassifiedAtoms
	if len(atoms) == 0 {
		return nil
	}

	var known []string
	if pc.Settings.UseLLMEntities && s.generator != nil {
		existing, err := s.entities.ListByAgent(ctx, pc.AgentID, pc.Settings.EntitySeedLimit)
		if err != nil {
			return fmt.Errorf("list entities: %w", err)
		}
		known = make([]string, len(existing))
		for i, e := range existing {
			known[i] = e.DisplayName
		}
	}

	var staged []*types.PendingEdge
	for _, atom := range atoms {
		pc.AddStat("entity_update_processed", 1)

		var mentions []mention
		if pc.Settings.UseLLMEntities && s.generator != nil {
			mentions = s.extractLLM(ctx, pc, atom, known)
		} else {
			mentions = extractMentions(atom)
		}

		for _, men := range mentions {
			entityID, err := s.upsert(ctx, pc, men)
			if err != nil {
				return err
			}
			staged = append(staged, types.NewPendingEdge(pc.AgentID, pc.JobID,
				atom.ID, entityID, types.EdgeMentionsEntity, mentionsWeight, mentionsProbability))
		}
	}

	if err := s.edges.InsertMany(ctx, staged); err != nil {
		return fmt.Errorf("stage mention edges: %w", err)
	}
	return nil
}

// upsert records the mention against an existing entity or creates a new
// one, returning the entity id for the edge.
func (s *EntityUpdateStage) upsert(ctx context.Context, pc *PipelineContext, men mention) (string, error) {
	slug := types.Slugify(men.Name)
	if slug == "" {
		return "", fmt.Errorf("mention %q produced an empty slug", men.Name)
	}

	existing, err := s.entities.GetBySlug(ctx, pc.AgentID, slug)
	switch {
	case err == nil:
		if err := s.entities.RecordMention(ctx, pc.AgentID, slug, men.Aliases); err != nil {
			return "", fmt.Errorf("record mention of %s: %w", slug, err)
		}
		pc.AddStat("entity_update_updated", 1)
		return existing.ID, nil

	case errors.Is(err, storage.ErrNotFound):
		now := time.Now().UTC()
		entity := &types.Entity{
			ID:          types.NewEntityID(),
			AgentID:     pc.AgentID,
			Slug:        slug,
			DisplayName: men.Name,
			Type:        men.Type,
			CreatedAt:   now,
			LastSeenAt:  now,
			Aliases:     men.Aliases,
			MemoryCount: 1,
		}
		s.embedSummary(ctx, pc, entity)
		if err := s.entities.Insert(ctx, entity); err != nil {
			return "", fmt.Errorf("insert entity %s: %w", slug, err)
		}
		pc.AddStat("entity_update_created", 1)
		return entity.ID, nil

	default:
		return "", fmt.Errorf("lookup entity %s: %w", slug, err)
	}
}

// embedSummary computes the new entity's summary embedding. Failure leaves
// the entity without one; semantic entity lookup degrades, nothing else.
func (s *EntityUpdateStage) embedSummary(ctx context.Context, pc *PipelineContext, entity *types.Entity) {
	if s.embedder == nil {
		return
	}
	span := pc.Usage.Begin(usage.OpEmbedding, pc.AgentID, pc.JobID, StageEntityUpdate)
	vec, err := s.embedder.Embed(ctx, entity.DisplayName, llm.EmbedDocument)
	span.End(err)
	if err != nil {
		log.Printf("[entity_update] job %s: summary embedding failed for %s: %v", pc.JobID, entity.Slug, err)
		return
	}
	entity.SummaryEmbedding = vec
}

// extractLLM asks the model for named entities, seeded with known names so
// repeat mentions reuse the same slug. Falls back to the heuristic on any
// failure.
func (s *EntityUpdateStage) extractLLM(ctx context.Context, pc *PipelineContext, atom *types.Memory, known []string) []mention {
	span := pc.Usage.Begin(usage.OpCompletion, pc.AgentID, pc.JobID, StageEntityUpdate)
	response, err := s.generator.Complete(ctx, llm.BuildEntityPrompt(atom.Text, known))
	span.End(err)
	if err != nil {
		log.Printf("[entity_update] job %s: llm ner failed, using heuristics: %v", pc.JobID, err)
		pc.AddStat("entity_update_llm_failed", 1)
		return extractMentions(atom)
	}

	parsed, err := llm.ParseEntities(response)
	if err != nil {
		log.Printf("[entity_update] job %s: unparseable llm response, using heuristics: %v", pc.JobID, err)
		pc.AddStat("entity_update_llm_failed", 1)
		return extractMentions(atom)
	}

	mentions := make([]mention, 0, len(parsed))
	for _, e := range parsed {
		mentions = append(mentions, mention{Name: e.Name, Type: e.Type, Aliases: e.Aliases})
	}
	return dedupeMentions(mentions)
}

// extractMentions is the heuristic path: capitalized phrases from the text
// plus concept entities derived from the memory's tags.
func extractMentions(atom *types.Memory) []mention {
	var mentions []mention

	for _, phrase := range capitalizedPhrase.FindAllString(atom.Text, -1) {
		phrase = strings.TrimSpace(phrase)
		if len(phrase) < 2 || isStopword(phrase) {
			continue
		}
		mentions = append(mentions, mention{Name: phrase, Type: types.EntityTypeConcept})
	}

	for _, tag := range atom.Tags {
		if tag == types.TagLLMExtracted {
			continue
		}
		mentions = append(mentions, mention{Name: tag, Type: types.EntityTypeConcept})
	}

	return dedupeMentions(mentions)
}

// dedupeMentions collapses mentions that slugify identically, keeping the
// first surface form and unioning aliases.
func dedupeMentions(mentions []mention) []mention {
	bySlug := make(map[string]int, len(mentions))
	out := make([]mention, 0, len(mentions))
	for _, men := range mentions {
		slug := types.Slugify(men.Name)
		if slug == "" {
			continue
		}
		if i, ok := bySlug[slug]; ok {
			out[i].Aliases = types.MergeTags(out[i].Aliases, men.Aliases...)
			if men.Name != out[i].Name && !containsString(out[i].Aliases, men.Name) {
				out[i].Aliases = types.MergeTags(out[i].Aliases, men.Name)
			}
			continue
		}
		bySlug[slug] = len(out)
		out = append(out, men)
	}
	return out
}

// containsString reports whether list contains s.
func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
