package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	contractx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/contract"
	documentx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/document"
	promptx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/prompt"
	completionx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pkg/completion"
)

const (
	defaultSectionConcurrency = 4
	defaultSectionCharLimit   = 4000
	defaultMergeCharBudget    = 4000
)

type SummarizerConfig struct {
	Concurrency      int `envconfig:"CONCURRENCY" split_words:"true" default:"4"`
	SectionCharLimit int `envconfig:"SECTION_CHAR_LIMIT" split_words:"true" default:"4000"`
	MergeCharBudget  int `envconfig:"MERGE_CHAR_BUDGET" split_words:"true" default:"4000"`
}

// SummarizerAgent produces summaries at three levels. Section mode fans out
// one completion call per section with bounded parallelism; document mode
// merges section summaries under a prompt budget; corpus mode merges
// document-level summaries supplied by the caller. The default (empty) mode
// runs sections then document in one proposal, which is what the pipeline's
// summarize stage commits.
type SummarizerAgent struct {
	client  completionx.Client
	prompts promptx.PromptSet
	cfg     SummarizerConfig
}

func NewSummarizerAgent(client completionx.Client, prompts promptx.PromptSet, cfg SummarizerConfig) (*SummarizerAgent, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: completion client is required", contractx.ErrValidation)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultSectionConcurrency
	}
	if cfg.SectionCharLimit <= 0 {
		cfg.SectionCharLimit = defaultSectionCharLimit
	}
	if cfg.MergeCharBudget <= 0 {
		cfg.MergeCharBudget = defaultMergeCharBudget
	}
	return &SummarizerAgent{client: client, prompts: prompts, cfg: cfg}, nil
}

func (a *SummarizerAgent) Stage() documentx.Stage {
	return documentx.StageSummarize
}

func (a *SummarizerAgent) Propose(ctx context.Context, version *documentx.Version, params contractx.Params) (contractx.Proposal, error) {
	switch params.Mode {
	case contractx.ModeSections:
		summaries, err := a.summarizeSections(ctx, version, params)
		if err != nil {
			return contractx.Proposal{}, err
		}
		return a.proposal(contractx.Payload{SectionSummaries: summaries}), nil

	case contractx.ModeDocument:
		summaries := committedSectionSummaries(version)
		if len(summaries) == 0 {
			return contractx.Proposal{}, fmt.Errorf("%w: document merge needs section summaries", contractx.ErrMalformedProposal)
		}
		doc, err := a.mergeDocument(ctx, version, summaries, params)
		if err != nil {
			return contractx.Proposal{}, err
		}
		return a.proposal(contractx.Payload{DocumentSummary: doc}), nil

	case contractx.ModeCorpus:
		corpus, err := a.mergeCorpus(ctx, version, params)
		if err != nil {
			return contractx.Proposal{}, err
		}
		return a.proposal(contractx.Payload{CorpusSummary: corpus}), nil

	default:
		summaries, err := a.summarizeSections(ctx, version, params)
		if err != nil {
			return contractx.Proposal{}, err
		}
		doc, err := a.mergeDocument(ctx, version, summaries, params)
		if err != nil {
			return contractx.Proposal{}, err
		}
		return a.proposal(contractx.Payload{SectionSummaries: summaries, DocumentSummary: doc}), nil
	}
}

func (a *SummarizerAgent) proposal(payload contractx.Payload) contractx.Proposal {
	return contractx.Proposal{
		Stage:      documentx.StageSummarize,
		Payload:    payload,
		Confidence: 0.9,
	}
}

// summarizeSections fans out one completion call per section, bounded by the
// configured concurrency. Results keep section order regardless of
// completion timing.
func (a *SummarizerAgent) summarizeSections(ctx context.Context, version *documentx.Version, params contractx.Params) ([]documentx.Summary, error) {
	if version == nil || len(version.Sections) == 0 {
		return nil, fmt.Errorf("%w: doc=%s has no sections", contractx.ErrEmptyDocument, docID(version))
	}

	summaries := make([]documentx.Summary, len(version.Sections))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)

	for i, section := range version.Sections {
		g.Go(func() error {
			prompt := a.prompts.SummarizeSection + "\n\n" + truncate(section.Text, a.cfg.SectionCharLimit)
			text, err := a.client.Complete(gctx, completionx.Request{
				Prompt:      prompt,
				MaxTokens:   params.MaxTokens,
				Temperature: params.Temperature,
			})
			if err != nil {
				return fmt.Errorf("summarize section %d: %w", section.Index, err)
			}
			summaries[i] = documentx.Summary{
				Scope:         documentx.ScopeSection,
				SectionIndex:  section.Index,
				Text:          text,
				ProducedBy:    documentx.StageSummarize,
				SourceVersion: version.VersionNo,
				Editable:      true,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (a *SummarizerAgent) mergeDocument(ctx context.Context, version *documentx.Version, summaries []documentx.Summary, params contractx.Params) (*documentx.Summary, error) {
	parts := make([]string, 0, len(summaries))
	for _, s := range summaries {
		parts = append(parts, fmt.Sprintf("Section %d: %s", s.SectionIndex, s.Text))
	}
	merged := fitToBudget(parts, a.cfg.MergeCharBudget)

	text, err := a.client.Complete(ctx, completionx.Request{
		Prompt:      a.prompts.SummarizeDocument + "\n\n" + strings.Join(merged, "\n\n"),
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("merge document summary: %w", err)
	}
	return &documentx.Summary{
		Scope:         documentx.ScopeDocument,
		Text:          text,
		ProducedBy:    documentx.StageSummarize,
		SourceVersion: version.VersionNo,
		Editable:      true,
	}, nil
}

func (a *SummarizerAgent) mergeCorpus(ctx context.Context, version *documentx.Version, params contractx.Params) (*documentx.Summary, error) {
	if len(params.CorpusSummaries) == 0 {
		return nil, fmt.Errorf("%w: corpus merge needs document summaries", contractx.ErrMalformedProposal)
	}
	parts := make([]string, 0, len(params.CorpusSummaries))
	for i, s := range params.CorpusSummaries {
		parts = append(parts, fmt.Sprintf("Document %d: %s", i, s))
	}
	merged := fitToBudget(parts, a.cfg.MergeCharBudget)

	text, err := a.client.Complete(ctx, completionx.Request{
		Prompt:      a.prompts.SummarizeCorpus + "\n\n" + strings.Join(merged, "\n\n"),
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("merge corpus summary: %w", err)
	}
	var sourceVersion int64
	if version != nil {
		sourceVersion = version.VersionNo
	}
	return &documentx.Summary{
		Scope:         documentx.ScopeCorpus,
		Text:          text,
		ProducedBy:    documentx.StageSummarize,
		SourceVersion: sourceVersion,
		Editable:      true,
	}, nil
}

// fitToBudget drops the shortest parts first (ties drop the higher index)
// until the joined prompt fits the char budget. Survivors keep their
// original order. Deterministic by construction.
func fitToBudget(parts []string, budget int) []string {
	total := 0
	for _, p := range parts {
		total += len(p) + 2
	}
	if total <= budget {
		return parts
	}

	type candidate struct {
		index  int
		length int
	}
	drops := make([]candidate, 0, len(parts))
	for i, p := range parts {
		drops = append(drops, candidate{index: i, length: len(p)})
	}
	sort.Slice(drops, func(i, j int) bool {
		if drops[i].length != drops[j].length {
			return drops[i].length < drops[j].length
		}
		return drops[i].index > drops[j].index
	})

	dropped := make(map[int]bool, len(parts))
	for _, d := range drops {
		if total <= budget || len(dropped) == len(parts)-1 {
			break
		}
		dropped[d.index] = true
		total -= d.length + 2
	}

	kept := make([]string, 0, len(parts)-len(dropped))
	for i, p := range parts {
		if !dropped[i] {
			kept = append(kept, p)
		}
	}
	// The last survivor may still exceed the budget on its own.
	if len(kept) == 1 && len(kept[0]) > budget {
		kept[0] = truncate(kept[0], budget)
	}
	return kept
}

func committedSectionSummaries(version *documentx.Version) []documentx.Summary {
	if version == nil {
		return nil
	}
	var out []documentx.Summary
	for _, s := range version.Sections {
		if s.Summary != nil {
			out = append(out, *s.Summary)
		}
	}
	return out
}

// truncate cuts s to at most n bytes, backing off to a rune boundary so a
// multi-byte rune is never split in half.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
