package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	contractx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/contract"
	documentx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/document"
	promptx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/prompt"
	completionx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pkg/completion"
)

const (
	defaultTopK            = 3
	defaultContextBudget   = 4000
	groundedQAConfidence   = 0.8
	ungroundedQAConfidence = 0.1
)

// QAAgent answers a question from the top-k most relevant sections, selected
// by a deterministic lexical overlap score: ties break toward the lower
// section index. The selected section indexes travel with the answer so the
// validator and audit trail can verify grounding.
type QAAgent struct {
	client        completionx.Client
	prompts       promptx.PromptSet
	contextBudget int
	now           func() time.Time
}

func NewQAAgent(client completionx.Client, prompts promptx.PromptSet) (*QAAgent, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: completion client is required", contractx.ErrValidation)
	}
	return &QAAgent{
		client:        client,
		prompts:       prompts,
		contextBudget: defaultContextBudget,
		now:           time.Now,
	}, nil
}

func (a *QAAgent) Stage() documentx.Stage {
	return documentx.StageQA
}

func (a *QAAgent) Propose(ctx context.Context, version *documentx.Version, params contractx.Params) (contractx.Proposal, error) {
	question := strings.TrimSpace(params.Question)
	if question == "" {
		return contractx.Proposal{}, fmt.Errorf("%w: question is required", contractx.ErrMalformedProposal)
	}
	if version == nil || len(version.Sections) == 0 {
		return contractx.Proposal{}, fmt.Errorf("%w: doc=%s has no sections", contractx.ErrEmptyDocument, docID(version))
	}

	topK := params.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	selected := selectSections(version.Sections, question, topK)

	exchange := documentx.QAExchange{
		ID:       uuid.NewString(),
		Question: question,
		AskedAt:  a.now().UTC(),
	}

	// An ungrounded question skips the model entirely; the empty answer with
	// zero grounding sections is rejected by the validation gate.
	if len(selected) == 0 {
		return contractx.Proposal{
			Stage:      documentx.StageQA,
			Payload:    contractx.Payload{Exchange: &exchange},
			Confidence: ungroundedQAConfidence,
		}, nil
	}

	var sb strings.Builder
	for _, s := range selected {
		sb.WriteString(fmt.Sprintf("Section %d", s.Index))
		if s.Heading != "" {
			sb.WriteString(" (" + s.Heading + ")")
		}
		sb.WriteString(":\n")
		sb.WriteString(s.Text)
		sb.WriteString("\n\n")
	}
	context := truncate(sb.String(), a.contextBudget)

	answer, err := a.client.Complete(ctx, completionx.Request{
		Prompt:      a.prompts.QA + "\n\n" + context + "Question: " + question,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	})
	if err != nil {
		return contractx.Proposal{}, fmt.Errorf("answer question: %w", err)
	}

	indexes := make([]int, 0, len(selected))
	for _, s := range selected {
		indexes = append(indexes, s.Index)
	}
	sort.Ints(indexes)

	exchange.Answer = answer
	exchange.SectionIndexes = indexes

	return contractx.Proposal{
		Stage:      documentx.StageQA,
		Payload:    contractx.Payload{Exchange: &exchange},
		Confidence: groundedQAConfidence,
	}, nil
}

// selectSections ranks sections by shared-term count against the question
// and returns the top k with a positive score, ordered best-first.
func selectSections(sections []documentx.Section, question string, k int) []documentx.Section {
	questionTerms := tokenize(question)
	if len(questionTerms) == 0 {
		return nil
	}

	type scored struct {
		section documentx.Section
		score   int
	}
	var ranked []scored
	for _, s := range sections {
		terms := tokenize(s.Heading + " " + s.Text)
		score := 0
		for term := range questionTerms {
			if terms[term] {
				score++
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{section: s, score: score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].section.Index < ranked[j].section.Index
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]documentx.Section, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.section)
	}
	return out
}

func tokenize(s string) map[string]bool {
	terms := make(map[string]bool)
	for _, field := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(field) > 2 {
			terms[field] = true
		}
	}
	return terms
}
