package agents

import (
	"context"
	"errors"
	"testing"

	contractx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/contract"
	documentx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/document"
	promptx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/prompt"
	completionx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pkg/completion"
)

func findEntity(entities []documentx.Entity, text string, typ documentx.EntityType) *documentx.Entity {
	for i := range entities {
		if entities[i].Text == text && entities[i].Type == typ {
			return &entities[i]
		}
	}
	return nil
}

func TestEntityRulesExtractOrganizationsDatesPersons(t *testing.T) {
	t.Parallel()

	raw := "Acme Corp announced on 2024-01-15 that Jane Smith will lead the division. The review is due 3/14/2024."
	a := NewEntityAgent(nil, promptx.LoadPromptSet())

	proposal, err := a.Propose(context.Background(), uploadedVersion(t, raw), contractx.Params{})
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	entities := proposal.Payload.Entities

	org := findEntity(entities, "Acme Corp", documentx.EntityOrganization)
	if org == nil {
		t.Fatalf("missing organization, got %+v", entities)
	}
	if raw[org.Start:org.End] != "Acme Corp" {
		t.Fatalf("organization span [%d:%d] = %q", org.Start, org.End, raw[org.Start:org.End])
	}
	if findEntity(entities, "2024-01-15", documentx.EntityDate) == nil {
		t.Fatalf("missing iso date, got %+v", entities)
	}
	if findEntity(entities, "3/14/2024", documentx.EntityDate) == nil {
		t.Fatalf("missing slash date, got %+v", entities)
	}
	person := findEntity(entities, "Jane Smith", documentx.EntityPerson)
	if person == nil {
		t.Fatalf("missing person, got %+v", entities)
	}
	if person.Source != "rule" || person.Confidence != 0.9 {
		t.Fatalf("unexpected person provenance: %+v", person)
	}

	// The organization span must not be re-reported as a person, and
	// sentence-initial function words are not names.
	if findEntity(entities, "Acme Corp", documentx.EntityPerson) != nil {
		t.Fatal("organization span also claimed as a person")
	}
	if findEntity(entities, "Acme", documentx.EntityPerson) != nil {
		t.Fatal("partial organization span claimed as a person")
	}
	if findEntity(entities, "The", documentx.EntityPerson) != nil {
		t.Fatal("stopword claimed as a person")
	}

	for i := 1; i < len(entities); i++ {
		if entities[i].Start < entities[i-1].Start {
			t.Fatalf("entities out of span order: %+v", entities)
		}
	}
}

func TestEntityModelMergeAndDedupe(t *testing.T) {
	t.Parallel()

	raw := "Jane Smith filed the quarterly report for Acme Corp."
	stub := &completionx.Stub{
		Responses: []string{
			`Here are the entities: [{"text":"Jane Smith","type":"person"},{"text":"quarterly report","type":"other"},{"text":"Not In Text","type":"person"}] hope that helps`,
		},
	}
	a := NewEntityAgent(stub, promptx.LoadPromptSet())

	proposal, err := a.Propose(context.Background(), uploadedVersion(t, raw), contractx.Params{})
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	entities := proposal.Payload.Entities

	// The rule hit wins over the model duplicate.
	person := findEntity(entities, "Jane Smith", documentx.EntityPerson)
	if person == nil {
		t.Fatalf("missing person, got %+v", entities)
	}
	if person.Source != "rule" {
		t.Fatalf("rule hit must win over model duplicate, got source %q", person.Source)
	}

	other := findEntity(entities, "quarterly report", documentx.EntityOther)
	if other == nil {
		t.Fatalf("missing model-only entity, got %+v", entities)
	}
	if other.Source != "model" || other.Confidence != 0.7 {
		t.Fatalf("unexpected model provenance: %+v", other)
	}
	if raw[other.Start:other.End] != "quarterly report" {
		t.Fatalf("model entity span [%d:%d] = %q", other.Start, other.End, raw[other.Start:other.End])
	}

	// Mentions absent from the source text carry no span and are dropped.
	if findEntity(entities, "Not In Text", documentx.EntityPerson) != nil {
		t.Fatal("hallucinated mention kept")
	}
}

func TestEntityModelSchemaViolation(t *testing.T) {
	t.Parallel()

	stub := &completionx.Stub{Responses: []string{"not json at all"}}
	a := NewEntityAgent(stub, promptx.LoadPromptSet())

	_, err := a.Propose(context.Background(), uploadedVersion(t, "Some text here."), contractx.Params{})
	if !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
}

func TestEntityRejectsEmptyDocument(t *testing.T) {
	t.Parallel()

	a := NewEntityAgent(nil, promptx.LoadPromptSet())
	_, err := a.Propose(context.Background(), uploadedVersion(t, "   "), contractx.Params{})
	if !errors.Is(err, contractx.ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
}
