package document

// State is the document lifecycle position. Uploaded through Published is
// the happy path; Failed and RolledBack absorb recovery.
type State string

const (
	StateUploaded        State = "uploaded"
	StateParsed          State = "parsed"
	StateSummarized      State = "summarized"
	StateEntityExtracted State = "entity_extracted"
	StateValidated       State = "validated"
	StatePublished       State = "published"
	StateFailed          State = "failed"
	StateRolledBack      State = "rolled_back"
)

// PipelineStages is the strict stage order for a document run.
var PipelineStages = []Stage{
	StageParse,
	StageSummarize,
	StageExtractEntities,
	StageValidate,
	StagePublish,
}

var stateAfter = map[Stage]State{
	StageParse:           StateParsed,
	StageSummarize:       StateSummarized,
	StageExtractEntities: StateEntityExtracted,
	StageValidate:        StateValidated,
	StagePublish:         StatePublished,
}

var stageFrom = map[State]Stage{
	StateUploaded:        StageParse,
	StateParsed:          StageSummarize,
	StateSummarized:      StageExtractEntities,
	StateEntityExtracted: StageValidate,
	StateValidated:       StagePublish,
}

// NextStage returns the stage that advances a document out of state, and
// false when the state is terminal or only recoverable explicitly.
func NextStage(state State) (Stage, bool) {
	s, ok := stageFrom[state]
	return s, ok
}

// StateAfter returns the lifecycle state a successful stage commit produces.
func StateAfter(stage Stage) (State, bool) {
	s, ok := stateAfter[stage]
	return s, ok
}

// EntryState returns the lifecycle state a stage runs from, and false for
// stages outside the strict pipeline order.
func EntryState(stage Stage) (State, bool) {
	for state, s := range stageFrom {
		if s == stage {
			return state, true
		}
	}
	return "", false
}

// Terminal reports whether no automatic transition leaves the state.
func Terminal(state State) bool {
	return state == StatePublished || state == StateFailed
}

func KnownState(state State) bool {
	switch state {
	case StateUploaded, StateParsed, StateSummarized, StateEntityExtracted,
		StateValidated, StatePublished, StateFailed, StateRolledBack:
		return true
	}
	return false
}
