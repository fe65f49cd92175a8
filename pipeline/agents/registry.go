package agents

import (
	"fmt"

	contractx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/contract"
	documentx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/document"
	llmx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/llm"
	promptx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/prompt"
	completionx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pkg/completion"
)

// Clients groups the completion clients per model-backed stage so each can
// run a different model or temperature.
type Clients struct {
	Summarizer completionx.Client
	Entity     completionx.Client
	QA         completionx.Client
	Critic     completionx.Client
}

// BuildClients constructs one OpenAI-backed client per stage from the
// per-stage overrides in cfg.
func BuildClients(cfg llmx.Config) (Clients, error) {
	if err := cfg.Validate(); err != nil {
		return Clients{}, err
	}
	var (
		clients Clients
		err     error
	)
	if clients.Summarizer, err = completionx.NewOpenAIClient(cfg.CompletionFor(documentx.StageSummarize)); err != nil {
		return Clients{}, fmt.Errorf("summarizer client: %w", err)
	}
	if clients.Entity, err = completionx.NewOpenAIClient(cfg.CompletionFor(documentx.StageExtractEntities)); err != nil {
		return Clients{}, fmt.Errorf("entity client: %w", err)
	}
	if clients.QA, err = completionx.NewOpenAIClient(cfg.CompletionFor(documentx.StageQA)); err != nil {
		return Clients{}, fmt.Errorf("qa client: %w", err)
	}
	if clients.Critic, err = completionx.NewOpenAIClient(cfg.CompletionFor(documentx.StageCritic)); err != nil {
		return Clients{}, fmt.Errorf("critic client: %w", err)
	}
	return clients, nil
}

// Registry maps stage names to agent instances, resolved once at startup.
// Swapping or disabling an agent is a construction-time option; the
// controller never changes.
type Registry struct {
	agents    map[documentx.Stage]contractx.Agent
	critic    contractx.Critic
	validator contractx.Validator
}

type RegistryOption func(*Registry)

// WithAgent registers or replaces the agent for its stage.
func WithAgent(agent contractx.Agent) RegistryOption {
	return func(r *Registry) {
		if agent != nil {
			r.agents[agent.Stage()] = agent
		}
	}
}

// WithoutCritic disables the critic; proposals reach the gate with no
// advisory.
func WithoutCritic() RegistryOption {
	return func(r *Registry) {
		r.critic = nil
	}
}

func WithCritic(critic contractx.Critic) RegistryOption {
	return func(r *Registry) {
		r.critic = critic
	}
}

func WithValidator(validator contractx.Validator) RegistryOption {
	return func(r *Registry) {
		r.validator = validator
	}
}

func NewRegistry(
	clients Clients,
	prompts promptx.PromptSet,
	summarizerCfg SummarizerConfig,
	validationCfg ValidationConfig,
	opts ...RegistryOption,
) (*Registry, error) {
	summarizer, err := NewSummarizerAgent(clients.Summarizer, prompts, summarizerCfg)
	if err != nil {
		return nil, err
	}
	qa, err := NewQAAgent(clients.QA, prompts)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		agents: map[documentx.Stage]contractx.Agent{
			documentx.StageParse:           NewParserAgent(),
			documentx.StageSummarize:       summarizer,
			documentx.StageExtractEntities: NewEntityAgent(clients.Entity, prompts),
			documentx.StageQA:              qa,
		},
		validator: NewValidationAgent(validationCfg),
	}

	if clients.Critic != nil {
		critic, err := NewCriticAgent(clients.Critic, prompts)
		if err != nil {
			return nil, err
		}
		r.critic = critic
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Agent resolves the agent for a stage. An unregistered stage is fatal for
// that pipeline run, not retried.
func (r *Registry) Agent(stage documentx.Stage) (contractx.Agent, error) {
	agent, ok := r.agents[stage]
	if !ok {
		return nil, fmt.Errorf("%w: %s", contractx.ErrUnknownStage, stage)
	}
	return agent, nil
}

// Critic returns the registered critic, or nil when disabled.
func (r *Registry) Critic() contractx.Critic {
	return r.critic
}

func (r *Registry) Validator() contractx.Validator {
	return r.validator
}
