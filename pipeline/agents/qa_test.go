package agents

import (
	"context"
	"errors"
	"strings"
	"testing"

	contractx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/contract"
	promptx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/prompt"
	completionx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pkg/completion"
)

func newTestQA(t *testing.T, stub *completionx.Stub) *QAAgent {
	t.Helper()
	a, err := NewQAAgent(stub, promptx.LoadPromptSet())
	if err != nil {
		t.Fatalf("NewQAAgent() error = %v", err)
	}
	return a
}

func TestQAAnswersFromRelevantSections(t *testing.T) {
	t.Parallel()

	stub := &completionx.Stub{Responses: []string{"Revenue grew four percent."}}
	a := newTestQA(t, stub)

	version := parsedVersion(t,
		"Staffing stayed flat across all offices.",
		"Revenue grew four percent over the previous quarter.",
		"The cafeteria menu was refreshed.",
	)

	proposal, err := a.Propose(context.Background(), version, contractx.Params{
		Question: "How much did revenue grow in the quarter?",
	})
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}

	ex := proposal.Payload.Exchange
	if ex == nil {
		t.Fatal("proposal carries no exchange")
	}
	if ex.ID == "" {
		t.Fatal("exchange has no id")
	}
	if ex.Answer != "Revenue grew four percent." {
		t.Fatalf("unexpected answer: %q", ex.Answer)
	}
	if proposal.Confidence != 0.8 {
		t.Fatalf("expected grounded confidence 0.8, got %f", proposal.Confidence)
	}

	found := false
	for _, idx := range ex.SectionIndexes {
		if idx == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("revenue section not in grounding set: %v", ex.SectionIndexes)
	}
	for i := 1; i < len(ex.SectionIndexes); i++ {
		if ex.SectionIndexes[i] < ex.SectionIndexes[i-1] {
			t.Fatalf("grounding indexes not sorted: %v", ex.SectionIndexes)
		}
	}

	calls := stub.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one completion call, got %d", len(calls))
	}
	if !strings.Contains(calls[0].Prompt, "Revenue grew four percent over the previous quarter.") {
		t.Fatalf("prompt missing the grounding section: %q", calls[0].Prompt)
	}
	if !strings.Contains(calls[0].Prompt, "Question: How much did revenue grow in the quarter?") {
		t.Fatalf("prompt missing the question: %q", calls[0].Prompt)
	}
}

func TestQATopKLimitsGrounding(t *testing.T) {
	t.Parallel()

	stub := &completionx.Stub{Responses: []string{"answer text"}}
	a := newTestQA(t, stub)

	version := parsedVersion(t,
		"budget numbers for the budget review",
		"budget numbers",
		"budget",
		"nothing relevant here",
	)

	proposal, err := a.Propose(context.Background(), version, contractx.Params{
		Question: "budget numbers review",
		TopK:     2,
	})
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}

	indexes := proposal.Payload.Exchange.SectionIndexes
	if len(indexes) != 2 {
		t.Fatalf("expected 2 grounding sections, got %v", indexes)
	}
	// Section 0 shares three terms, section 1 two, section 2 one.
	if indexes[0] != 0 || indexes[1] != 1 {
		t.Fatalf("expected sections [0 1], got %v", indexes)
	}
}

func TestQAUngroundedQuestionSkipsModel(t *testing.T) {
	t.Parallel()

	stub := &completionx.Stub{}
	a := newTestQA(t, stub)

	version := parsedVersion(t, "Revenue grew four percent.")
	proposal, err := a.Propose(context.Background(), version, contractx.Params{
		Question: "zebra migration patterns",
	})
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}

	if proposal.Confidence != 0.1 {
		t.Fatalf("expected ungrounded confidence 0.1, got %f", proposal.Confidence)
	}
	ex := proposal.Payload.Exchange
	if ex == nil || ex.Answer != "" || len(ex.SectionIndexes) != 0 {
		t.Fatalf("ungrounded exchange must stay empty, got %+v", ex)
	}
	if len(stub.Calls()) != 0 {
		t.Fatalf("ungrounded question must not reach the model, got %d calls", len(stub.Calls()))
	}
}

func TestQAInputValidation(t *testing.T) {
	t.Parallel()

	a := newTestQA(t, &completionx.Stub{})

	_, err := a.Propose(context.Background(), parsedVersion(t, "text"), contractx.Params{Question: "   "})
	if !errors.Is(err, contractx.ErrMalformedProposal) {
		t.Fatalf("expected ErrMalformedProposal, got %v", err)
	}

	_, err = a.Propose(context.Background(), uploadedVersion(t, "raw"), contractx.Params{Question: "anything at all"})
	if !errors.Is(err, contractx.ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
}
