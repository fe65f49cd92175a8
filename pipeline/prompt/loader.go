package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/summarize_section.txt
	summarizeSectionRaw string

	//go:embed template/summarize_document.txt
	summarizeDocumentRaw string

	//go:embed template/summarize_corpus.txt
	summarizeCorpusRaw string

	//go:embed template/entity.txt
	entityRaw string

	//go:embed template/qa.txt
	qaRaw string

	//go:embed template/critic.txt
	criticRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	SummarizeSection  string
	SummarizeDocument string
	SummarizeCorpus   string
	Entity            string
	QA                string
	Critic            string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings. Safe to call
// concurrently; the embed is compile-time and trimming is cheap.
func LoadPromptSet() PromptSet {
	return PromptSet{
		SummarizeSection:  strings.TrimSpace(summarizeSectionRaw),
		SummarizeDocument: strings.TrimSpace(summarizeDocumentRaw),
		SummarizeCorpus:   strings.TrimSpace(summarizeCorpusRaw),
		Entity:            strings.TrimSpace(entityRaw),
		QA:                strings.TrimSpace(qaRaw),
		Critic:            strings.TrimSpace(criticRaw),
	}
}
