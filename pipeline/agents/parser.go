package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gtext "github.com/yuin/goldmark/text"

	contractx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/contract"
	documentx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/document"
)

// ParserAgent turns pre-extracted raw text into the initial section sequence
// by structural splitting: heading boundaries when the text has any, blank
// line paragraph boundaries otherwise. Purely deterministic, no model calls.
type ParserAgent struct {
	parser goldmark.Markdown
}

func NewParserAgent() *ParserAgent {
	return &ParserAgent{parser: goldmark.New()}
}

func (a *ParserAgent) Stage() documentx.Stage {
	return documentx.StageParse
}

func (a *ParserAgent) Propose(ctx context.Context, version *documentx.Version, _ contractx.Params) (contractx.Proposal, error) {
	if version == nil || strings.TrimSpace(version.RawText) == "" {
		return contractx.Proposal{}, fmt.Errorf("%w: doc=%s", contractx.ErrEmptyDocument, docID(version))
	}

	sections := a.splitByHeadings(version.RawText)
	if len(sections) == 0 {
		sections = splitByParagraphs(version.RawText)
	}
	if len(sections) == 0 {
		return contractx.Proposal{}, fmt.Errorf("%w: doc=%s", contractx.ErrEmptyDocument, version.DocID)
	}

	return contractx.Proposal{
		Stage:      documentx.StageParse,
		Payload:    contractx.Payload{Sections: sections},
		Confidence: 1.0,
	}, nil
}

type headingMark struct {
	lineStart    int
	contentStart int
	contentStop  int
}

// splitByHeadings sections the text at top-level markdown headings. Each
// section is the contiguous span from its heading line to the next heading.
// Returns nil when the text has no headings.
func (a *ParserAgent) splitByHeadings(raw string) []documentx.Section {
	src := []byte(raw)
	root := a.parser.Parser().Parse(gtext.NewReader(src))

	var marks []headingMark
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		seg := h.Lines().At(0)
		lineStart := seg.Start
		for lineStart > 0 && src[lineStart-1] != '\n' {
			lineStart--
		}
		marks = append(marks, headingMark{
			lineStart:    lineStart,
			contentStart: seg.Start,
			contentStop:  seg.Stop,
		})
	}
	if len(marks) == 0 {
		return nil
	}

	var sections []documentx.Section
	if lead := strings.TrimSpace(raw[:marks[0].lineStart]); lead != "" {
		sections = append(sections, documentx.Section{Text: lead})
	}
	for i, m := range marks {
		end := len(raw)
		if i+1 < len(marks) {
			end = marks[i+1].lineStart
		}
		span := strings.TrimSpace(raw[m.lineStart:end])
		if span == "" {
			continue
		}
		sections = append(sections, documentx.Section{
			Heading: strings.TrimSpace(string(src[m.contentStart:m.contentStop])),
			Text:    span,
		})
	}
	for i := range sections {
		sections[i].Index = i
	}
	return sections
}

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n+`)

func splitByParagraphs(raw string) []documentx.Section {
	var sections []documentx.Section
	for _, part := range paragraphBreak.Split(raw, -1) {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		sections = append(sections, documentx.Section{
			Index: len(sections),
			Text:  trimmed,
		})
	}
	return sections
}

func docID(v *documentx.Version) string {
	if v == nil {
		return ""
	}
	return v.DocID
}
