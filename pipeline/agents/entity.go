package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	contractx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/contract"
	documentx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/document"
	promptx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/prompt"
	completionx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pkg/completion"
)

const (
	entityTextCharLimit   = 3000
	ruleEntityConfidence  = 0.9
	modelEntityConfidence = 0.7
)

var (
	organizationRe = regexp.MustCompile(`\b[A-Z][A-Za-z]+(?: [A-Z][A-Za-z]+)* (?:Corp|Corporation|Inc|Ltd|LLC|Company|University|Institute)\b`)
	isoDateRe      = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	slashDateRe    = regexp.MustCompile(`\b\d{1,2}[-/]\d{1,2}[-/]\d{2,4}\b`)
	personRe       = regexp.MustCompile(`\b[A-Z][a-z]+(?: [A-Z][a-z]+)*\b`)
)

// personStopwords filters sentence-initial function words out of the
// capitalized-sequence person rule.
var personStopwords = map[string]bool{
	"The": true, "A": true, "An": true, "This": true, "That": true,
	"These": true, "Those": true, "It": true, "He": true, "She": true,
	"They": true, "We": true, "You": true, "I": true, "On": true,
	"In": true, "At": true, "By": true, "For": true, "Of": true,
	"To": true, "And": true, "Or": true, "But": true, "If": true,
	"As": true, "Is": true, "Are": true, "Was": true, "Were": true,
	"From": true, "With": true, "When": true, "Where": true, "While": true,
}

// EntityAgent unions deterministic pattern rules with model extraction and
// deduplicates by normalized text + type. A nil client disables the model
// pass and keeps the rules-only baseline.
type EntityAgent struct {
	client  completionx.Client
	prompts promptx.PromptSet
}

func NewEntityAgent(client completionx.Client, prompts promptx.PromptSet) *EntityAgent {
	return &EntityAgent{client: client, prompts: prompts}
}

func (a *EntityAgent) Stage() documentx.Stage {
	return documentx.StageExtractEntities
}

func (a *EntityAgent) Propose(ctx context.Context, version *documentx.Version, params contractx.Params) (contractx.Proposal, error) {
	if version == nil || strings.TrimSpace(version.RawText) == "" {
		return contractx.Proposal{}, fmt.Errorf("%w: doc=%s", contractx.ErrEmptyDocument, docID(version))
	}
	text := version.RawText

	entities := extractByRules(text)

	if a.client != nil {
		modelEntities, err := a.extractByModel(ctx, text, params)
		if err != nil {
			return contractx.Proposal{}, err
		}
		entities = append(entities, modelEntities...)
	}

	entities = dedupeEntities(entities)
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Start != entities[j].Start {
			return entities[i].Start < entities[j].Start
		}
		if entities[i].Text != entities[j].Text {
			return entities[i].Text < entities[j].Text
		}
		return entities[i].Type < entities[j].Type
	})

	return contractx.Proposal{
		Stage:      documentx.StageExtractEntities,
		Payload:    contractx.Payload{Entities: entities},
		Confidence: ruleEntityConfidence,
	}, nil
}

func extractByRules(text string) []documentx.Entity {
	var entities []documentx.Entity
	taken := make([][2]int, 0, 8)

	overlaps := func(start, end int) bool {
		for _, span := range taken {
			if start < span[1] && end > span[0] {
				return true
			}
		}
		return false
	}
	add := func(spans [][]int, typ documentx.EntityType) {
		for _, span := range spans {
			start, end := span[0], span[1]
			if overlaps(start, end) {
				continue
			}
			entities = append(entities, documentx.Entity{
				Text:       text[start:end],
				Type:       typ,
				Start:      start,
				End:        end,
				Confidence: ruleEntityConfidence,
				Source:     "rule",
			})
			taken = append(taken, [2]int{start, end})
		}
	}

	// Organizations and dates claim their spans first so "Acme Corp" is not
	// also reported as a person.
	add(organizationRe.FindAllStringIndex(text, -1), documentx.EntityOrganization)
	add(isoDateRe.FindAllStringIndex(text, -1), documentx.EntityDate)
	add(slashDateRe.FindAllStringIndex(text, -1), documentx.EntityDate)

	for _, span := range personRe.FindAllStringIndex(text, -1) {
		start, end := span[0], span[1]
		candidate := text[start:end]
		if overlaps(start, end) || personStopwords[candidate] {
			continue
		}
		entities = append(entities, documentx.Entity{
			Text:       candidate,
			Type:       documentx.EntityPerson,
			Start:      start,
			End:        end,
			Confidence: ruleEntityConfidence,
			Source:     "rule",
		})
		taken = append(taken, [2]int{start, end})
	}
	return entities
}

type modelEntity struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

func (a *EntityAgent) extractByModel(ctx context.Context, text string, params contractx.Params) ([]documentx.Entity, error) {
	out, err := a.client.Complete(ctx, completionx.Request{
		Prompt:      a.prompts.Entity + "\n\n" + truncate(text, entityTextCharLimit),
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("model entity extraction: %w", err)
	}

	var raw []modelEntity
	if err := json.Unmarshal([]byte(extractJSONArray(out)), &raw); err != nil {
		return nil, fmt.Errorf("%w: entity response is not a JSON array: %v", contractx.ErrSchemaViolation, err)
	}

	var entities []documentx.Entity
	for _, e := range raw {
		mention := strings.TrimSpace(e.Text)
		if mention == "" {
			continue
		}
		// Mentions not present in the source text are dropped; every entity
		// must carry a real source span.
		start := strings.Index(text, mention)
		if start < 0 {
			continue
		}
		entities = append(entities, documentx.Entity{
			Text:       mention,
			Type:       normalizeEntityType(e.Type),
			Start:      start,
			End:        start + len(mention),
			Confidence: modelEntityConfidence,
			Source:     "model",
		})
	}
	return entities, nil
}

// extractJSONArray tolerates prose around the array in a model response.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

func normalizeEntityType(s string) documentx.EntityType {
	switch documentx.EntityType(strings.ToLower(strings.TrimSpace(s))) {
	case documentx.EntityPerson:
		return documentx.EntityPerson
	case documentx.EntityDate:
		return documentx.EntityDate
	case documentx.EntityOrganization:
		return documentx.EntityOrganization
	default:
		return documentx.EntityOther
	}
}

// dedupeEntities keeps the first entity per normalized text + type, so rule
// hits win over model duplicates.
func dedupeEntities(entities []documentx.Entity) []documentx.Entity {
	seen := make(map[string]bool, len(entities))
	out := entities[:0]
	for _, e := range entities {
		key := strings.ToLower(strings.TrimSpace(e.Text)) + "|" + string(e.Type)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}
