// Package document holds the versioned document model. A Version is an
// immutable committed snapshot; all mutation happens as propose + validate +
// commit in the controller, never in place.
package document

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stage names the actor that produced a version or proposal.
type Stage string

const (
	StageIngest          Stage = "ingest"
	StageParse           Stage = "parse"
	StageSummarize       Stage = "summarize"
	StageExtractEntities Stage = "extract_entities"
	StageValidate        Stage = "validate"
	StagePublish         Stage = "publish"
	StageQA              Stage = "qa"
	StageCritic          Stage = "critic"
	StageManual          Stage = "manual"
	StageRollback        Stage = "rollback"
)

type Section struct {
	Index   int      `json:"index"`
	Heading string   `json:"heading,omitempty"`
	Text    string   `json:"text"`
	Summary *Summary `json:"summary,omitempty"`
}

type SummaryScope string

const (
	ScopeSection  SummaryScope = "section"
	ScopeDocument SummaryScope = "document"
	ScopeCorpus   SummaryScope = "corpus"
)

// Summary carries provenance so human edits and agent output stay
// distinguishable in the audit trail.
type Summary struct {
	Scope         SummaryScope `json:"scope"`
	SectionIndex  int          `json:"section_index,omitempty"`
	Text          string       `json:"text"`
	ProducedBy    Stage        `json:"produced_by"`
	SourceVersion int64        `json:"source_version"`
	Editable      bool         `json:"editable"`
}

type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityDate         EntityType = "date"
	EntityOrganization EntityType = "organization"
	EntityOther        EntityType = "other"
)

type Entity struct {
	Text       string     `json:"text"`
	Type       EntityType `json:"type"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Confidence float64    `json:"confidence"`
	Source     string     `json:"source"` // "rule" or "model"
}

// QAExchange records a question, its answer, and the sections used as
// context so the validator and audit trail can verify grounding.
type QAExchange struct {
	ID             string    `json:"id"`
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
	SectionIndexes []int     `json:"section_indexes"`
	AskedAt        time.Time `json:"asked_at"`
}

// Version is an immutable snapshot of a document's state. The store never
// mutates a committed version; rollback appends a structural copy.
type Version struct {
	DocID           string       `json:"doc_id"`
	VersionNo       int64        `json:"version_no"`
	State           State        `json:"state"`
	FailedStage     Stage        `json:"failed_stage,omitempty"`
	FailureReason   string       `json:"failure_reason,omitempty"`
	RolledBackTo    int64        `json:"rolled_back_to,omitempty"`
	RawText         string       `json:"raw_text"`
	Sections        []Section    `json:"sections,omitempty"`
	DocumentSummary *Summary     `json:"document_summary,omitempty"`
	Entities        []Entity     `json:"entities,omitempty"`
	Exchanges       []QAExchange `json:"exchanges,omitempty"`
	ProducingStage  Stage        `json:"producing_stage"`
	CreatedAt       time.Time    `json:"created_at"`
}

var (
	ErrInvalidDocID   = errors.New("document id is empty")
	ErrInvalidVersion = errors.New("invalid document version")
)

// NewUploaded builds the first version for a freshly ingested document.
func NewUploaded(docID, rawText string, now time.Time) (*Version, error) {
	if strings.TrimSpace(docID) == "" {
		return nil, ErrInvalidDocID
	}
	return &Version{
		DocID:          docID,
		VersionNo:      1,
		State:          StateUploaded,
		RawText:        rawText,
		ProducingStage: StageIngest,
		CreatedAt:      now.UTC(),
	}, nil
}

// Clone returns a deep copy so committed snapshots never alias caller
// mutations.
func (v *Version) Clone() *Version {
	if v == nil {
		return nil
	}
	out := *v

	if v.Sections != nil {
		out.Sections = make([]Section, len(v.Sections))
		for i, s := range v.Sections {
			out.Sections[i] = s
			if s.Summary != nil {
				sum := *s.Summary
				out.Sections[i].Summary = &sum
			}
		}
	}
	if v.DocumentSummary != nil {
		sum := *v.DocumentSummary
		out.DocumentSummary = &sum
	}
	if v.Entities != nil {
		out.Entities = append([]Entity(nil), v.Entities...)
	}
	if v.Exchanges != nil {
		out.Exchanges = make([]QAExchange, len(v.Exchanges))
		for i, ex := range v.Exchanges {
			out.Exchanges[i] = ex
			if ex.SectionIndexes != nil {
				out.Exchanges[i].SectionIndexes = append([]int(nil), ex.SectionIndexes...)
			}
		}
	}
	return &out
}

// Validate checks the structural invariants every committed version must
// hold.
func (v *Version) Validate() error {
	if v == nil {
		return ErrInvalidVersion
	}
	if strings.TrimSpace(v.DocID) == "" {
		return ErrInvalidDocID
	}
	if v.VersionNo <= 0 {
		return fmt.Errorf("%w: version_no=%d", ErrInvalidVersion, v.VersionNo)
	}
	if !KnownState(v.State) {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidVersion, v.State)
	}
	if v.State == StateFailed && v.FailedStage == "" {
		return fmt.Errorf("%w: failed version must name the failing stage", ErrInvalidVersion)
	}
	if v.State == StateRolledBack && v.RolledBackTo <= 0 {
		return fmt.Errorf("%w: rolled-back version must reference its target", ErrInvalidVersion)
	}
	for i, s := range v.Sections {
		if s.Index != i {
			return fmt.Errorf("%w: section index %d at position %d", ErrInvalidVersion, s.Index, i)
		}
	}
	return nil
}
