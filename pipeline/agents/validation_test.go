package agents

import (
	"testing"

	contractx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/contract"
	documentx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/document"
)

func defaultGate() *ValidationAgent {
	return NewValidationAgent(ValidationConfig{
		ConfidenceFloor: 0.7,
		CriticFloor:     0.4,
		MinSummaryWords: 5,
	})
}

func summarizeProposal(confidence float64) contractx.Proposal {
	return contractx.Proposal{
		Stage: documentx.StageSummarize,
		Payload: contractx.Payload{
			DocumentSummary: &documentx.Summary{
				Scope: documentx.ScopeDocument,
				Text:  "five words of summary text",
			},
		},
		Confidence: confidence,
	}
}

func TestValidateConfidenceFloor(t *testing.T) {
	t.Parallel()

	gate := defaultGate()

	if d := gate.Validate(summarizeProposal(0.9), nil); !d.Accepted {
		t.Fatalf("expected accept at 0.9, got %+v", d)
	}
	if d := gate.Validate(summarizeProposal(0.7), nil); !d.Accepted {
		t.Fatalf("expected accept at the floor, got %+v", d)
	}

	d := gate.Validate(summarizeProposal(0.69), nil)
	if d.Accepted {
		t.Fatal("expected reject below the floor")
	}
	if d.Reason != contractx.ReasonBelowConfidence {
		t.Fatalf("expected below-confidence reason, got %s", d.Reason)
	}
}

func TestValidateDeterministic(t *testing.T) {
	t.Parallel()

	gate := defaultGate()
	p := summarizeProposal(0.5)
	first := gate.Validate(p, nil)
	for i := 0; i < 10; i++ {
		if got := gate.Validate(p, nil); got != first {
			t.Fatalf("decision changed between identical calls: %+v vs %+v", first, got)
		}
	}
}

func TestValidateCriticFloor(t *testing.T) {
	t.Parallel()

	gate := defaultGate()
	p := summarizeProposal(0.9)

	if d := gate.Validate(p, &contractx.Advisory{Score: 0.8}); !d.Accepted {
		t.Fatalf("expected accept with good advisory, got %+v", d)
	}
	d := gate.Validate(p, &contractx.Advisory{Score: 0.3, Issues: []string{"overreach"}})
	if d.Accepted || d.Reason != contractx.ReasonCriticScore {
		t.Fatalf("expected critic-score reject, got %+v", d)
	}

	// No advisory means the critic floor does not apply.
	if d := gate.Validate(p, nil); !d.Accepted {
		t.Fatalf("expected accept without advisory, got %+v", d)
	}
}

func TestValidateStructuralParse(t *testing.T) {
	t.Parallel()

	gate := defaultGate()

	p := contractx.Proposal{Stage: documentx.StageParse, Confidence: 1}
	d := gate.Validate(p, nil)
	if d.Accepted || d.Reason != contractx.ReasonStructural {
		t.Fatalf("expected structural reject for no sections, got %+v", d)
	}

	p.Payload.Sections = []documentx.Section{{Index: 0, Text: "a"}, {Index: 2, Text: "b"}}
	d = gate.Validate(p, nil)
	if d.Accepted || d.Reason != contractx.ReasonStructural {
		t.Fatalf("expected structural reject for misindexed sections, got %+v", d)
	}

	p.Payload.Sections = []documentx.Section{{Index: 0, Text: "a"}, {Index: 1, Text: "   "}}
	if d := gate.Validate(p, nil); d.Accepted {
		t.Fatal("expected structural reject for an empty section")
	}

	p.Payload.Sections = []documentx.Section{{Index: 0, Text: "a"}, {Index: 1, Text: "b"}}
	if d := gate.Validate(p, nil); !d.Accepted {
		t.Fatalf("expected accept for well-formed sections, got %+v", d)
	}
}

func TestValidateStructuralSummaries(t *testing.T) {
	t.Parallel()

	gate := defaultGate()

	p := contractx.Proposal{Stage: documentx.StageSummarize, Confidence: 1}
	if d := gate.Validate(p, nil); d.Accepted || d.Reason != contractx.ReasonStructural {
		t.Fatalf("expected structural reject for no summaries, got %+v", d)
	}

	p.Payload.SectionSummaries = []documentx.Summary{{Scope: documentx.ScopeSection, Text: "too short"}}
	d := gate.Validate(p, nil)
	if d.Accepted || d.Reason != contractx.ReasonStructural {
		t.Fatalf("expected structural reject for a short summary, got %+v", d)
	}

	p.Payload.SectionSummaries = []documentx.Summary{{Scope: documentx.ScopeSection, Text: "this summary has enough words"}}
	if d := gate.Validate(p, nil); !d.Accepted {
		t.Fatalf("expected accept, got %+v", d)
	}
}

func TestValidateStructuralEntities(t *testing.T) {
	t.Parallel()

	gate := defaultGate()

	p := contractx.Proposal{Stage: documentx.StageExtractEntities, Confidence: 0.9}
	if d := gate.Validate(p, nil); d.Accepted || d.Reason != contractx.ReasonStructural {
		t.Fatalf("expected structural reject for zero entities, got %+v", d)
	}

	p.Payload.Entities = []documentx.Entity{{Text: "  ", Type: documentx.EntityPerson}}
	if d := gate.Validate(p, nil); d.Accepted {
		t.Fatal("expected structural reject for an empty entity text")
	}

	p.Payload.Entities = []documentx.Entity{{Text: "Jane Smith", Type: documentx.EntityPerson}}
	if d := gate.Validate(p, nil); !d.Accepted {
		t.Fatalf("expected accept, got %+v", d)
	}
}

func TestValidateStructuralQA(t *testing.T) {
	t.Parallel()

	gate := defaultGate()

	p := contractx.Proposal{Stage: documentx.StageQA, Confidence: 0.8}
	if d := gate.Validate(p, nil); d.Accepted {
		t.Fatal("expected structural reject for missing exchange")
	}

	p.Payload.Exchange = &documentx.QAExchange{Question: "q", Answer: "an answer"}
	d := gate.Validate(p, nil)
	if d.Accepted || d.Reason != contractx.ReasonStructural {
		t.Fatalf("expected structural reject for zero grounding sections, got %+v", d)
	}

	p.Payload.Exchange.SectionIndexes = []int{1, 3}
	if d := gate.Validate(p, nil); !d.Accepted {
		t.Fatalf("expected accept, got %+v", d)
	}
}

func TestValidateManualEditBypassesThresholds(t *testing.T) {
	t.Parallel()

	gate := defaultGate()

	// Zero confidence and a hostile advisory: neither applies to manual edits.
	p := contractx.Proposal{
		Stage: documentx.StageManual,
		Payload: contractx.Payload{
			DocumentSummary: &documentx.Summary{Scope: documentx.ScopeDocument, Text: "human edit"},
		},
		Confidence: 0,
	}
	if d := gate.Validate(p, &contractx.Advisory{Score: 0}); !d.Accepted {
		t.Fatalf("expected manual edit accepted, got %+v", d)
	}

	empty := contractx.Proposal{Stage: documentx.StageManual}
	if d := gate.Validate(empty, nil); d.Accepted || d.Reason != contractx.ReasonStructural {
		t.Fatalf("expected structural reject for an empty manual edit, got %+v", d)
	}
}

func TestValidateDocumentLevelGate(t *testing.T) {
	t.Parallel()

	gate := defaultGate()

	p := contractx.Proposal{Stage: documentx.StageValidate, Confidence: 1}
	if d := gate.Validate(p, nil); d.Accepted || d.Reason != contractx.ReasonStructural {
		t.Fatalf("expected reject without summary and entities, got %+v", d)
	}

	p.Payload.DocumentSummary = &documentx.Summary{Scope: documentx.ScopeDocument, Text: "summary"}
	if d := gate.Validate(p, nil); d.Accepted {
		t.Fatal("expected reject without entities")
	}

	p.Payload.Entities = []documentx.Entity{{Text: "Acme Corp", Type: documentx.EntityOrganization}}
	if d := gate.Validate(p, nil); !d.Accepted {
		t.Fatalf("expected accept, got %+v", d)
	}
}

func TestValidateUnknownStage(t *testing.T) {
	t.Parallel()

	gate := defaultGate()
	p := contractx.Proposal{Stage: documentx.Stage("mystery"), Confidence: 1}
	if d := gate.Validate(p, nil); d.Accepted || d.Reason != contractx.ReasonStructural {
		t.Fatalf("expected structural reject for unknown stage, got %+v", d)
	}
}
