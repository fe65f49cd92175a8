package agents

import (
	"errors"
	"testing"

	contractx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/contract"
	documentx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/document"
	promptx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/prompt"
	completionx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pkg/completion"
)

func stubClients() Clients {
	return Clients{
		Summarizer: &completionx.Stub{},
		Entity:     &completionx.Stub{},
		QA:         &completionx.Stub{},
		Critic:     &completionx.Stub{},
	}
}

func newTestRegistry(t *testing.T, opts ...RegistryOption) *Registry {
	t.Helper()
	r, err := NewRegistry(stubClients(), promptx.LoadPromptSet(), SummarizerConfig{}, ValidationConfig{}, opts...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

func TestRegistryResolvesPipelineAgents(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	for _, stage := range []documentx.Stage{
		documentx.StageParse,
		documentx.StageSummarize,
		documentx.StageExtractEntities,
		documentx.StageQA,
	} {
		agent, err := r.Agent(stage)
		if err != nil {
			t.Fatalf("Agent(%s) error = %v", stage, err)
		}
		if agent.Stage() != stage {
			t.Fatalf("agent for %s reports stage %s", stage, agent.Stage())
		}
	}

	if r.Validator() == nil {
		t.Fatal("registry has no validator")
	}
	if r.Critic() == nil {
		t.Fatal("registry has no critic despite a critic client")
	}
}

func TestRegistryUnknownStage(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	_, err := r.Agent(documentx.Stage("mystery"))
	if !errors.Is(err, contractx.ErrUnknownStage) {
		t.Fatalf("expected ErrUnknownStage, got %v", err)
	}
	// Validate and publish are controller-synthesized, not registered.
	if _, err := r.Agent(documentx.StageValidate); !errors.Is(err, contractx.ErrUnknownStage) {
		t.Fatalf("expected ErrUnknownStage for validate, got %v", err)
	}
}

func TestRegistryWithoutCritic(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, WithoutCritic())
	if r.Critic() != nil {
		t.Fatal("expected no critic")
	}

	clients := stubClients()
	clients.Critic = nil
	r2, err := NewRegistry(clients, promptx.LoadPromptSet(), SummarizerConfig{}, ValidationConfig{})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if r2.Critic() != nil {
		t.Fatal("expected no critic without a critic client")
	}
}

func TestRegistryWithAgentOverride(t *testing.T) {
	t.Parallel()

	custom := NewParserAgent()
	r := newTestRegistry(t, WithAgent(custom))
	got, err := r.Agent(documentx.StageParse)
	if err != nil {
		t.Fatalf("Agent() error = %v", err)
	}
	if got != contractx.Agent(custom) {
		t.Fatal("override agent not registered")
	}
}
