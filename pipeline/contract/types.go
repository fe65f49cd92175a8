package contract

import (
	documentx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/document"
)

type SummarizeMode string

const (
	ModeSections SummarizeMode = "sections"
	ModeDocument SummarizeMode = "document"
	ModeCorpus   SummarizeMode = "corpus"
)

// Params tunes a single agent invocation. The controller re-prompts retries
// by bumping Temperature.
type Params struct {
	Temperature     float64       `json:"temperature,omitempty"` // negative means client default
	MaxTokens       int64         `json:"max_tokens,omitempty"`
	Mode            SummarizeMode `json:"mode,omitempty"`
	Question        string        `json:"question,omitempty"`
	TopK            int           `json:"top_k,omitempty"`
	CorpusSummaries []string      `json:"corpus_summaries,omitempty"`
}

// Payload is the candidate update an agent proposes. Exactly the fields the
// proposing stage owns are set; everything else stays nil.
type Payload struct {
	Sections         []documentx.Section   `json:"sections,omitempty"`
	SectionSummaries []documentx.Summary   `json:"section_summaries,omitempty"`
	DocumentSummary  *documentx.Summary    `json:"document_summary,omitempty"`
	CorpusSummary    *documentx.Summary    `json:"corpus_summary,omitempty"`
	Entities         []documentx.Entity    `json:"entities,omitempty"`
	Exchange         *documentx.QAExchange `json:"exchange,omitempty"`
}

// Proposal is a candidate update awaiting validation; it is not part of
// document history until the controller commits it.
type Proposal struct {
	Stage      documentx.Stage `json:"stage"`
	Payload    Payload         `json:"payload"`
	Confidence float64         `json:"confidence"`
}

// Advisory is the critic's non-blocking review of a proposal.
type Advisory struct {
	Score  float64  `json:"score"`
	Issues []string `json:"issues,omitempty"`
}

type RejectReason string

const (
	ReasonBelowConfidence RejectReason = "below_confidence_threshold"
	ReasonCriticScore     RejectReason = "critic_score_below_floor"
	ReasonStructural      RejectReason = "structural_malformation"
)

// Decision is the validation gate's verdict. Given identical inputs and
// thresholds the gate always returns the same Decision.
type Decision struct {
	Accepted bool         `json:"accepted"`
	Reason   RejectReason `json:"reason,omitempty"`
	Detail   string       `json:"detail,omitempty"`
}
