// Package controller drives documents through the pipeline. It is the only
// writer of the version store: agents propose, the validation gate decides,
// and the controller commits, retries, or rolls back.
package controller

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog/log"

	agentsx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/agents"
	contractx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/contract"
	documentx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/document"
	storex "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/store"
	completionx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pkg/completion"
	metricsx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pkg/metrics"
)

var (
	ErrTerminalState = errors.New("document is in a terminal state")
	ErrStageMismatch = errors.New("stage does not apply to current state")
	ErrNotFailed     = errors.New("document is not in the failed state")
)

type Config struct {
	RetryBudget          int           `envconfig:"RETRY_BUDGET" split_words:"true" default:"2"`
	RetryTemperatureStep float64       `envconfig:"RETRY_TEMPERATURE_STEP" split_words:"true" default:"0.2"`
	BackendRetries       int           `envconfig:"BACKEND_RETRIES" split_words:"true" default:"2"`
	BackendBackoff       time.Duration `envconfig:"BACKEND_BACKOFF" split_words:"true" default:"500ms"`
	QATopK               int           `envconfig:"QA_TOP_K" split_words:"true" default:"3"`
}

func (c *Config) normalize() {
	if c.RetryBudget <= 0 {
		c.RetryBudget = 2
	}
	if c.RetryTemperatureStep <= 0 {
		c.RetryTemperatureStep = 0.2
	}
	if c.BackendRetries < 0 {
		c.BackendRetries = 0
	}
	if c.BackendBackoff <= 0 {
		c.BackendBackoff = 500 * time.Millisecond
	}
	if c.QATopK <= 0 {
		c.QATopK = 3
	}
}

// ManualEdit replaces summaries with human-authored text. Only summary
// fields are editable; parsed structure and entities are agent territory.
type ManualEdit struct {
	SectionSummaries map[int]string
	DocumentSummary  string
}

// Status is a read-only view of where a document stands.
type Status struct {
	DocID         string          `json:"doc_id"`
	VersionNo     int64           `json:"version_no"`
	State         documentx.State `json:"state"`
	FailedStage   documentx.Stage `json:"failed_stage,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	SectionCount  int             `json:"section_count"`
	EntityCount   int             `json:"entity_count"`
	ExchangeCount int             `json:"exchange_count"`
}

type Controller struct {
	cfg      Config
	store    storex.Store
	registry *agentsx.Registry
	metrics  *metricsx.Metrics
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, st storex.Store, registry *agentsx.Registry, m *metricsx.Metrics) *Controller {
	cfg.normalize()
	if m == nil {
		m = metricsx.New(nil)
	}
	return &Controller{
		cfg:      cfg,
		store:    st,
		registry: registry,
		metrics:  m,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Ingest registers a new document and commits its Uploaded version.
func (c *Controller) Ingest(ctx context.Context, docID, rawText string) (*documentx.Version, error) {
	v, err := documentx.NewUploaded(docID, rawText, c.now())
	if err != nil {
		return nil, err
	}
	if _, err := c.store.Commit(ctx, v); err != nil {
		return nil, err
	}
	c.metrics.CommitsTotal.Inc()
	log.Info().Str("doc_id", docID).Msg("document ingested")
	return v, nil
}

// Run advances the document stage by stage until it is Published or Failed.
// Cancellation between stages leaves the last committed version current.
func (c *Controller) Run(ctx context.Context, docID string) (*documentx.Version, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current, err := c.store.GetCurrent(ctx, docID)
		if err != nil {
			return nil, err
		}
		if documentx.Terminal(current.State) {
			return current, nil
		}
		stage, ok := documentx.NextStage(current.State)
		if !ok {
			return nil, fmt.Errorf("%w: state=%s", ErrStageMismatch, current.State)
		}
		if _, err := c.RunStage(ctx, docID, stage); err != nil {
			return nil, err
		}
	}
}

// RunStage executes one stage against the current version: propose, review,
// validate, commit. Rejections, schema-violating model output, and folded
// backend failures all consume attempts; exhausting the budget rolls back
// and marks the document Failed at the stage. Input errors skip the retry
// budget entirely.
func (c *Controller) RunStage(ctx context.Context, docID string, stage documentx.Stage) (*documentx.Version, error) {
	current, err := c.store.GetCurrent(ctx, docID)
	if err != nil {
		return nil, err
	}
	if documentx.Terminal(current.State) {
		return nil, fmt.Errorf("%w: doc=%s state=%s", ErrTerminalState, docID, current.State)
	}
	if want, ok := documentx.NextStage(current.State); !ok || want != stage {
		return nil, fmt.Errorf("%w: doc=%s state=%s stage=%s", ErrStageMismatch, docID, current.State, stage)
	}

	started := c.now()
	defer func() {
		c.metrics.StageDuration.WithLabelValues(string(stage)).Observe(c.now().Sub(started).Seconds())
	}()

	params := contractx.Params{Temperature: -1}
	lastDetail := ""
	conflictRetried := false

	for attempt := 1; attempt <= c.cfg.RetryBudget; attempt++ {
		if attempt > 1 {
			params.Temperature = c.cfg.RetryTemperatureStep * float64(attempt-1)
		}

		proposal, err := c.propose(ctx, current, stage, params)
		switch {
		case err == nil:
		case errors.Is(err, contractx.ErrSchemaViolation):
			// A fresh completion at a bumped temperature is the remedy for
			// malformed model output, so it rides the same budget as a
			// rejected proposal.
			lastDetail = err.Error()
			log.Warn().Err(err).Str("doc_id", docID).Str("stage", string(stage)).
				Int("attempt", attempt).
				Msg("malformed model output, re-prompting")
			continue
		case isInputError(err):
			log.Warn().Err(err).Str("doc_id", docID).Str("stage", string(stage)).
				Msg("stage rejected its input")
			return c.markFailed(ctx, current, stage, err.Error())
		default:
			return nil, err
		}

		advisory := c.review(ctx, proposal, current)
		decision := c.registry.Validator().Validate(proposal, advisory)
		c.metrics.ProposalsTotal.WithLabelValues(string(stage), decisionLabel(decision)).Inc()
		if !decision.Accepted {
			lastDetail = fmt.Sprintf("%s: %s", decision.Reason, decision.Detail)
			log.Warn().Str("doc_id", docID).Str("stage", string(stage)).
				Int("attempt", attempt).Str("reason", string(decision.Reason)).
				Str("detail", decision.Detail).
				Msg("proposal rejected")
			continue
		}

		candidate := applyProposal(current, proposal)
		if _, err := c.store.Commit(ctx, candidate); err != nil {
			if errors.Is(err, storex.ErrConflict) {
				c.metrics.CommitConflictsTotal.Inc()
				if conflictRetried {
					return nil, fmt.Errorf("stage %s: repeated commit conflict: %w", stage, err)
				}
				conflictRetried = true
				current, err = c.store.GetCurrent(ctx, docID)
				if err != nil {
					return nil, err
				}
				if want, ok := documentx.NextStage(current.State); !ok || want != stage {
					// Someone else advanced the document past this stage.
					return current, nil
				}
				attempt--
				continue
			}
			return nil, err
		}

		c.metrics.CommitsTotal.Inc()
		c.metrics.StageRunsTotal.WithLabelValues(string(stage), "success").Inc()
		log.Info().Str("doc_id", docID).Str("stage", string(stage)).
			Int64("version_no", candidate.VersionNo).Int("attempt", attempt).
			Msg("stage committed")
		return candidate, nil
	}

	log.Warn().Str("doc_id", docID).Str("stage", string(stage)).
		Int("budget", c.cfg.RetryBudget).Str("last_rejection", lastDetail).
		Msg("retry budget exhausted, rolling back")
	return c.failAfterRetries(ctx, current, stage, lastDetail)
}

// propose obtains the stage's proposal. Validate and publish are synthesized
// by the controller from committed content; the other stages go through
// their registered agent with bounded retries on backend errors. A backend
// error that outlives its retries folds into a zero-confidence proposal so
// the validation gate rejects it deterministically.
func (c *Controller) propose(
	ctx context.Context,
	current *documentx.Version,
	stage documentx.Stage,
	params contractx.Params,
) (contractx.Proposal, error) {
	switch stage {
	case documentx.StageValidate:
		return contractx.Proposal{
			Stage: stage,
			Payload: contractx.Payload{
				DocumentSummary: current.DocumentSummary,
				Entities:        current.Entities,
			},
			Confidence: 1,
		}, nil
	case documentx.StagePublish:
		return contractx.Proposal{Stage: stage, Confidence: 1}, nil
	}

	agent, err := c.registry.Agent(stage)
	if err != nil {
		return contractx.Proposal{}, err
	}

	for try := 0; ; try++ {
		proposal, err := agent.Propose(ctx, current, params)
		if err == nil {
			return proposal, nil
		}
		if !completionx.IsBackendError(err) {
			return contractx.Proposal{}, err
		}
		if try >= c.cfg.BackendRetries {
			log.Warn().Err(err).Str("stage", string(stage)).
				Msg("backend unavailable, folding into rejection")
			return contractx.Proposal{Stage: stage, Confidence: 0}, nil
		}
		backoff := c.cfg.BackendBackoff * time.Duration(1<<try)
		if err := c.sleep(ctx, backoff); err != nil {
			return contractx.Proposal{}, err
		}
	}
}

// review asks the critic for an advisory. A missing or failing critic
// degrades to no advisory rather than blocking the stage.
func (c *Controller) review(ctx context.Context, proposal contractx.Proposal, current *documentx.Version) *contractx.Advisory {
	critic := c.registry.Critic()
	if critic == nil {
		return nil
	}
	advisory, err := critic.Review(ctx, proposal, current)
	if err != nil {
		log.Warn().Err(err).Str("stage", string(proposal.Stage)).
			Msg("critic unavailable, proceeding without advisory")
		return nil
	}
	return &advisory
}

// markFailed commits a Failed marker carrying the pre-stage content so
// reads keep serving the last good snapshot.
func (c *Controller) markFailed(ctx context.Context, base *documentx.Version, stage documentx.Stage, reason string) (*documentx.Version, error) {
	failed := base.Clone()
	failed.VersionNo = base.VersionNo + 1
	failed.State = documentx.StateFailed
	failed.FailedStage = stage
	failed.FailureReason = reason
	failed.RolledBackTo = 0
	failed.ProducingStage = stage
	failed.CreatedAt = c.now().UTC()

	if _, err := c.store.Commit(ctx, failed); err != nil {
		return nil, fmt.Errorf("mark failed: %w", err)
	}
	c.metrics.CommitsTotal.Inc()
	c.metrics.StageRunsTotal.WithLabelValues(string(stage), "failed").Inc()
	return failed, nil
}

// failAfterRetries appends a rollback to the pre-stage version, then the
// Failed marker on top of it. History keeps every rejected run visible.
func (c *Controller) failAfterRetries(ctx context.Context, base *documentx.Version, stage documentx.Stage, reason string) (*documentx.Version, error) {
	rolled, err := c.store.Rollback(ctx, base.DocID, base.VersionNo)
	if err != nil {
		return nil, fmt.Errorf("rollback after retries: %w", err)
	}
	c.metrics.RollbacksTotal.Inc()
	if reason == "" {
		reason = "retry budget exhausted"
	}
	return c.markFailed(ctx, rolled, stage, reason)
}

// Ask answers a question against the current version and commits the
// exchange to the audit trail. It never changes the lifecycle state and
// never marks the document Failed; QA problems stay with the caller.
func (c *Controller) Ask(ctx context.Context, docID, question string) (*documentx.QAExchange, error) {
	current, err := c.store.GetCurrent(ctx, docID)
	if err != nil {
		return nil, err
	}

	agent, err := c.registry.Agent(documentx.StageQA)
	if err != nil {
		return nil, err
	}
	params := contractx.Params{Temperature: -1, Question: question, TopK: c.cfg.QATopK}
	proposal, err := agent.Propose(ctx, current, params)
	if err != nil {
		return nil, err
	}

	decision := c.registry.Validator().Validate(proposal, c.review(ctx, proposal, current))
	c.metrics.ProposalsTotal.WithLabelValues(string(documentx.StageQA), decisionLabel(decision)).Inc()
	if !decision.Accepted {
		return nil, fmt.Errorf("%w: %s: %s", contractx.ErrValidation, decision.Reason, decision.Detail)
	}

	for retried := false; ; {
		candidate := applyProposal(current, proposal)
		if _, err := c.store.Commit(ctx, candidate); err != nil {
			if errors.Is(err, storex.ErrConflict) && !retried {
				c.metrics.CommitConflictsTotal.Inc()
				retried = true
				current, err = c.store.GetCurrent(ctx, docID)
				if err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}
		c.metrics.CommitsTotal.Inc()
		return proposal.Payload.Exchange, nil
	}
}

// SubmitManualEdit commits human-authored summary text as a new version.
// The edit passes structural validation but skips the critic; provenance
// flips to the manual stage so agent output stays distinguishable.
func (c *Controller) SubmitManualEdit(ctx context.Context, docID string, edit ManualEdit) (*documentx.Version, error) {
	current, err := c.store.GetCurrent(ctx, docID)
	if err != nil {
		return nil, err
	}

	payload := contractx.Payload{}
	for idx, text := range edit.SectionSummaries {
		if idx < 0 || idx >= len(current.Sections) {
			return nil, fmt.Errorf("%w: no section at index %d", contractx.ErrMalformedProposal, idx)
		}
		existing := current.Sections[idx].Summary
		if existing != nil && !existing.Editable {
			return nil, fmt.Errorf("%w: section %d summary is not editable", contractx.ErrMalformedProposal, idx)
		}
		payload.SectionSummaries = append(payload.SectionSummaries, documentx.Summary{
			Scope:         documentx.ScopeSection,
			SectionIndex:  idx,
			Text:          text,
			ProducedBy:    documentx.StageManual,
			SourceVersion: current.VersionNo,
			Editable:      true,
		})
	}
	if edit.DocumentSummary != "" {
		payload.DocumentSummary = &documentx.Summary{
			Scope:         documentx.ScopeDocument,
			Text:          edit.DocumentSummary,
			ProducedBy:    documentx.StageManual,
			SourceVersion: current.VersionNo,
			Editable:      true,
		}
	}

	proposal := contractx.Proposal{Stage: documentx.StageManual, Payload: payload, Confidence: 1}
	decision := c.registry.Validator().Validate(proposal, nil)
	c.metrics.ProposalsTotal.WithLabelValues(string(documentx.StageManual), decisionLabel(decision)).Inc()
	if !decision.Accepted {
		return nil, fmt.Errorf("%w: %s: %s", contractx.ErrValidation, decision.Reason, decision.Detail)
	}

	candidate := applyProposal(current, proposal)
	if _, err := c.store.Commit(ctx, candidate); err != nil {
		return nil, err
	}
	c.metrics.CommitsTotal.Inc()
	log.Info().Str("doc_id", docID).Int64("version_no", candidate.VersionNo).
		Msg("manual edit committed")
	return candidate, nil
}

// SummarizeCorpus merges the committed document summaries of several
// documents into one cross-document summary. The result spans documents,
// so it is returned rather than committed to any single history.
func (c *Controller) SummarizeCorpus(ctx context.Context, docIDs []string) (*documentx.Summary, error) {
	if len(docIDs) == 0 {
		return nil, fmt.Errorf("%w: no documents", contractx.ErrEmptyDocument)
	}

	summaries := make([]string, 0, len(docIDs))
	var base *documentx.Version
	for _, id := range docIDs {
		v, err := c.store.GetCurrent(ctx, id)
		if err != nil {
			return nil, err
		}
		if v.DocumentSummary == nil {
			return nil, fmt.Errorf("%w: doc=%s has no document summary", contractx.ErrEmptyDocument, id)
		}
		summaries = append(summaries, v.DocumentSummary.Text)
		if base == nil {
			base = v
		}
	}

	agent, err := c.registry.Agent(documentx.StageSummarize)
	if err != nil {
		return nil, err
	}
	params := contractx.Params{Temperature: -1, Mode: contractx.ModeCorpus, CorpusSummaries: summaries}
	proposal, err := agent.Propose(ctx, base, params)
	if err != nil {
		return nil, err
	}

	decision := c.registry.Validator().Validate(proposal, c.review(ctx, proposal, base))
	if !decision.Accepted {
		return nil, fmt.Errorf("%w: %s: %s", contractx.ErrValidation, decision.Reason, decision.Detail)
	}
	return proposal.Payload.CorpusSummary, nil
}

// Restart recovers a Failed document by committing a copy of the preserved
// content re-labeled with its pre-failure state, so Run can retake the
// stage that failed.
func (c *Controller) Restart(ctx context.Context, docID string) (*documentx.Version, error) {
	current, err := c.store.GetCurrent(ctx, docID)
	if err != nil {
		return nil, err
	}
	if current.State != documentx.StateFailed {
		return nil, fmt.Errorf("%w: doc=%s state=%s", ErrNotFailed, docID, current.State)
	}
	entry, ok := documentx.EntryState(current.FailedStage)
	if !ok {
		return nil, fmt.Errorf("%w: failed stage %s has no entry state", ErrStageMismatch, current.FailedStage)
	}

	restarted := current.Clone()
	restarted.VersionNo = current.VersionNo + 1
	restarted.State = entry
	restarted.FailedStage = ""
	restarted.FailureReason = ""
	restarted.RolledBackTo = 0
	restarted.ProducingStage = documentx.StageRollback
	restarted.CreatedAt = c.now().UTC()

	if _, err := c.store.Commit(ctx, restarted); err != nil {
		return nil, err
	}
	c.metrics.CommitsTotal.Inc()
	log.Info().Str("doc_id", docID).Str("state", string(entry)).
		Msg("failed document restarted")
	return restarted, nil
}

// Status reports where a document stands without exposing full content.
func (c *Controller) Status(ctx context.Context, docID string) (Status, error) {
	current, err := c.store.GetCurrent(ctx, docID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		DocID:         current.DocID,
		VersionNo:     current.VersionNo,
		State:         current.State,
		FailedStage:   current.FailedStage,
		FailureReason: current.FailureReason,
		SectionCount:  len(current.Sections),
		EntityCount:   len(current.Entities),
		ExchangeCount: len(current.Exchanges),
	}, nil
}

// History streams the document's full audit trail oldest first.
func (c *Controller) History(ctx context.Context, docID string) iter.Seq2[*documentx.Version, error] {
	return c.store.ListVersions(ctx, docID)
}

// applyProposal folds an accepted payload into a candidate version. Pipeline
// stages advance the lifecycle state; manual edits and QA keep it.
func applyProposal(current *documentx.Version, proposal contractx.Proposal) *documentx.Version {
	candidate := current.Clone()
	candidate.VersionNo = current.VersionNo + 1
	candidate.ProducingStage = proposal.Stage
	candidate.RolledBackTo = 0
	candidate.CreatedAt = time.Time{}

	if next, ok := documentx.StateAfter(proposal.Stage); ok {
		candidate.State = next
	}

	payload := proposal.Payload
	if payload.Sections != nil {
		candidate.Sections = payload.Sections
	}
	for _, sum := range payload.SectionSummaries {
		if sum.SectionIndex >= 0 && sum.SectionIndex < len(candidate.Sections) {
			s := sum
			candidate.Sections[sum.SectionIndex].Summary = &s
		}
	}
	if payload.DocumentSummary != nil {
		sum := *payload.DocumentSummary
		candidate.DocumentSummary = &sum
	}
	if payload.Entities != nil {
		candidate.Entities = payload.Entities
	}
	if payload.Exchange != nil {
		candidate.Exchanges = append(candidate.Exchanges, *payload.Exchange)
	}
	return candidate
}

func isInputError(err error) bool {
	return errors.Is(err, contractx.ErrEmptyDocument) ||
		errors.Is(err, contractx.ErrMalformedProposal)
}

func decisionLabel(d contractx.Decision) string {
	if d.Accepted {
		return "accepted"
	}
	return string(d.Reason)
}
