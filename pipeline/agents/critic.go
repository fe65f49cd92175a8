package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/contract"
	documentx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/document"
	promptx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/prompt"
	completionx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pkg/completion"
)

const criticContentCharLimit = 3000

// CriticAgent reviews summary and answer proposals for bias and
// factual-overreach signals. Its advisory feeds the validation gate; the
// controller degrades a failed review to no advisory rather than blocking.
type CriticAgent struct {
	client  completionx.Client
	prompts promptx.PromptSet
}

func NewCriticAgent(client completionx.Client, prompts promptx.PromptSet) (*CriticAgent, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: completion client is required", contractx.ErrValidation)
	}
	return &CriticAgent{client: client, prompts: prompts}, nil
}

func (a *CriticAgent) Review(ctx context.Context, proposal contractx.Proposal, _ *documentx.Version) (contractx.Advisory, error) {
	content := reviewableContent(proposal)
	if content == "" {
		// Nothing model-generated to review.
		return contractx.Advisory{Score: 1}, nil
	}

	out, err := a.client.Complete(ctx, completionx.Request{
		Prompt:    a.prompts.Critic + "\n\n" + truncate(content, criticContentCharLimit),
		MaxTokens: 300,
	})
	if err != nil {
		return contractx.Advisory{}, fmt.Errorf("critic review: %w", err)
	}

	var advisory contractx.Advisory
	if err := json.Unmarshal([]byte(extractJSONObject(out)), &advisory); err != nil {
		return contractx.Advisory{}, fmt.Errorf("%w: critic response is not a JSON object: %v", contractx.ErrSchemaViolation, err)
	}
	if advisory.Score < 0 {
		advisory.Score = 0
	}
	if advisory.Score > 1 {
		advisory.Score = 1
	}
	return advisory, nil
}

func reviewableContent(p contractx.Proposal) string {
	var parts []string
	for _, s := range p.Payload.SectionSummaries {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	if p.Payload.DocumentSummary != nil && p.Payload.DocumentSummary.Text != "" {
		parts = append(parts, p.Payload.DocumentSummary.Text)
	}
	if p.Payload.CorpusSummary != nil && p.Payload.CorpusSummary.Text != "" {
		parts = append(parts, p.Payload.CorpusSummary.Text)
	}
	if p.Payload.Exchange != nil && p.Payload.Exchange.Answer != "" {
		parts = append(parts, p.Payload.Exchange.Answer)
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
