package agents

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/contract"
	documentx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/document"
)

// ValidationConfig holds the gate thresholds. Values are configuration, not
// gate logic: two gates with the same thresholds decide identically.
type ValidationConfig struct {
	ConfidenceFloor float64 `envconfig:"CONFIDENCE_FLOOR" split_words:"true" default:"0.7"`
	CriticFloor     float64 `envconfig:"CRITIC_FLOOR" split_words:"true" default:"0.4"`
	MinSummaryWords int     `envconfig:"MIN_SUMMARY_WORDS" split_words:"true" default:"5"`
}

// ValidationAgent is the quality gate deciding whether a proposal becomes a
// committed version. Pure and deterministic by construction.
type ValidationAgent struct {
	cfg ValidationConfig
}

func NewValidationAgent(cfg ValidationConfig) *ValidationAgent {
	if cfg.MinSummaryWords < 0 {
		cfg.MinSummaryWords = 0
	}
	return &ValidationAgent{cfg: cfg}
}

func (a *ValidationAgent) Validate(proposal contractx.Proposal, advisory *contractx.Advisory) contractx.Decision {
	if detail := a.structural(proposal); detail != "" {
		return reject(contractx.ReasonStructural, detail)
	}

	// Manual edits carry no agent confidence and bypass the critic; only the
	// structural checks above apply.
	if proposal.Stage == documentx.StageManual {
		return contractx.Decision{Accepted: true}
	}

	if proposal.Confidence < a.cfg.ConfidenceFloor {
		return reject(contractx.ReasonBelowConfidence,
			fmt.Sprintf("confidence %.2f below floor %.2f", proposal.Confidence, a.cfg.ConfidenceFloor))
	}
	if advisory != nil && advisory.Score < a.cfg.CriticFloor {
		return reject(contractx.ReasonCriticScore,
			fmt.Sprintf("critic score %.2f below floor %.2f", advisory.Score, a.cfg.CriticFloor))
	}
	return contractx.Decision{Accepted: true}
}

func (a *ValidationAgent) structural(p contractx.Proposal) string {
	switch p.Stage {
	case documentx.StageParse:
		if len(p.Payload.Sections) == 0 {
			return "parse proposal has no sections"
		}
		for i, s := range p.Payload.Sections {
			if s.Index != i {
				return fmt.Sprintf("section index %d at position %d", s.Index, i)
			}
			if strings.TrimSpace(s.Text) == "" {
				return fmt.Sprintf("section %d is empty", i)
			}
		}

	case documentx.StageSummarize:
		if len(p.Payload.SectionSummaries) == 0 && p.Payload.DocumentSummary == nil && p.Payload.CorpusSummary == nil {
			return "summarize proposal carries no summaries"
		}
		for _, s := range p.Payload.SectionSummaries {
			if detail := a.checkSummary(s); detail != "" {
				return detail
			}
		}
		if s := p.Payload.DocumentSummary; s != nil {
			if detail := a.checkSummary(*s); detail != "" {
				return detail
			}
		}
		if s := p.Payload.CorpusSummary; s != nil {
			if detail := a.checkSummary(*s); detail != "" {
				return detail
			}
		}

	case documentx.StageExtractEntities:
		if len(p.Payload.Entities) == 0 {
			return "entity proposal is empty"
		}
		for _, e := range p.Payload.Entities {
			if strings.TrimSpace(e.Text) == "" {
				return "entity with empty text"
			}
		}

	case documentx.StageQA:
		ex := p.Payload.Exchange
		if ex == nil {
			return "qa proposal has no exchange"
		}
		if strings.TrimSpace(ex.Answer) == "" {
			return "answer is empty"
		}
		if len(ex.SectionIndexes) == 0 {
			return "answer has zero grounding sections"
		}

	case documentx.StageManual:
		if emptyPayload(p.Payload) {
			return "manual proposal carries no content"
		}
		for _, s := range p.Payload.SectionSummaries {
			if strings.TrimSpace(s.Text) == "" {
				return "edited summary is empty"
			}
		}
		if s := p.Payload.DocumentSummary; s != nil && strings.TrimSpace(s.Text) == "" {
			return "edited document summary is empty"
		}

	case documentx.StageValidate:
		if p.Payload.DocumentSummary == nil || strings.TrimSpace(p.Payload.DocumentSummary.Text) == "" {
			return "document has no summary to validate"
		}
		if len(p.Payload.Entities) == 0 {
			return "document has no entities to validate"
		}

	case documentx.StagePublish:
		// Publishing commits no new content; nothing structural to check.

	default:
		return fmt.Sprintf("unknown proposal stage %q", p.Stage)
	}
	return ""
}

func (a *ValidationAgent) checkSummary(s documentx.Summary) string {
	words := len(strings.Fields(s.Text))
	if words == 0 {
		return "summary is empty"
	}
	if words < a.cfg.MinSummaryWords {
		return fmt.Sprintf("summary has %d words, minimum is %d", words, a.cfg.MinSummaryWords)
	}
	return ""
}

func emptyPayload(p contractx.Payload) bool {
	return len(p.Sections) == 0 &&
		len(p.SectionSummaries) == 0 &&
		p.DocumentSummary == nil &&
		p.CorpusSummary == nil &&
		len(p.Entities) == 0 &&
		p.Exchange == nil
}

func reject(reason contractx.RejectReason, detail string) contractx.Decision {
	return contractx.Decision{Accepted: false, Reason: reason, Detail: detail}
}
