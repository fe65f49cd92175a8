package contract

import (
	"context"

	documentx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/document"
)

// Agent is a stateless transform from a committed document version (plus
// parameters) to a proposed update. Agents never write to the version store;
// only the controller commits.
type Agent interface {
	Stage() documentx.Stage
	Propose(ctx context.Context, version *documentx.Version, params Params) (Proposal, error)
}

// Critic reviews a proposal for bias and factual-overreach signals. Its
// advisory feeds the validation gate; it never blocks by itself.
type Critic interface {
	Review(ctx context.Context, proposal Proposal, version *documentx.Version) (Advisory, error)
}

// Validator decides whether a proposal becomes a committed version.
// Implementations must be pure and deterministic.
type Validator interface {
	Validate(proposal Proposal, advisory *Advisory) Decision
}
