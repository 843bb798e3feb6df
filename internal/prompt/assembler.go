// Package prompt assembles the generation-ready context for one query:
// retrieved chunk matches, the registry catalog, and prior conversation
// turns, rendered into the text blocks the generator feeds to the chat model.
package prompt

import (
	"fmt"
	"strings"

	"github.com/docqa/docqa-go/internal/budget"
	"github.com/docqa/docqa-go/internal/rag"
	"github.com/docqa/docqa-go/internal/registry"
)

// NoRelevantDocuments is the literal marker rendered when similarity search
// returned nothing. Generation must see this marker rather than an empty
// string so the model never answers as if context existed.
const NoRelevantDocuments = "No relevant documents were found for this question."

// Turn is one prior conversation turn. Read-only input to assembly and
// generation; the core never persists it.
type Turn struct {
	// Role is "user" or "assistant".
	Role string
	// Content is the turn's text.
	Content string
}

// Turn role values.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// baseInstructions is the system block prepended to every generation request.
const baseInstructions = `You are a document assistant. Answer the user's question using only the
provided document excerpts and the document catalog. If the excerpts do not
contain the answer, say so — do not invent content. Cite the source document
and page when you quote or paraphrase an excerpt.`

// catalogInstruction closes the prompt for document-inventory questions.
const catalogInstruction = `The user is asking about their document collection itself. Answer from the
DOCUMENT CATALOG section: list every document with its file name, page count,
and chunk count, and give the totals.`

// refineInstruction closes the prompt for ordinary content questions.
const refineInstruction = `If the excerpts are not relevant to the question, say that nothing in the
uploaded documents covers it and suggest the user rephrase or upload a
relevant document.`

// AssembledContext is the single generation-ready context for one query.
type AssembledContext struct {
	// Instructions is the system block, including the intent-dependent
	// closing instruction.
	Instructions string
	// RetrievedText renders the ranked matches, or the NoRelevantDocuments
	// marker when there were none.
	RetrievedText string
	// CatalogText renders the registry catalog for the namespace. It is
	// built from the registry, never from retrieval, so inventory questions
	// are answerable even when similarity search comes up empty.
	CatalogText string
	// History holds the budget-trimmed prior turns. Generation must replay
	// these, not the caller's raw history, or the token budget only applies
	// to the rendered text.
	History []Turn
	// HistoryText renders the trimmed turns in original order.
	HistoryText string
	// Query is the raw user question.
	Query string
	// CatalogIntent is true when the query matched an inventory pattern.
	CatalogIntent bool
}

// Assembler builds AssembledContext values under a token budget.
type Assembler struct {
	// maxContextTokens caps the assembled context size. History is dropped
	// oldest-first to fit; the fixed blocks are never trimmed.
	maxContextTokens int
}

// NewAssembler constructs an Assembler. maxContextTokens defaults to
// budget.DefaultMaxContextTokens if zero.
func NewAssembler(maxContextTokens int) *Assembler {
	if maxContextTokens <= 0 {
		maxContextTokens = budget.DefaultMaxContextTokens
	}
	return &Assembler{maxContextTokens: maxContextTokens}
}

// Assemble renders matches, catalog, and history into one context.
// History is trimmed oldest-first when the total exceeds the token budget;
// everything else is kept intact.
func (a *Assembler) Assemble(query string, matches []rag.RetrievedMatch, history []Turn, records []registry.Record, stats registry.Stats) AssembledContext {
	catalogIntent := IsCatalogQuery(query)

	instructions := baseInstructions + "\n\n"
	if catalogIntent {
		instructions += catalogInstruction
	} else {
		instructions += refineInstruction
	}

	retrieved := renderMatches(matches)
	catalog := renderCatalog(records, stats)

	fixedTokens := budget.Count(instructions) + budget.Count(retrieved) +
		budget.Count(catalog) + budget.Count(query)
	history = trimHistory(history, a.maxContextTokens-fixedTokens)

	return AssembledContext{
		Instructions:  instructions,
		RetrievedText: retrieved,
		CatalogText:   catalog,
		History:       history,
		HistoryText:   renderHistory(history),
		Query:         query,
		CatalogIntent: catalogIntent,
	}
}

// UserMessage renders the context blocks and the question into the final
// user-turn text handed to the chat model.
func (c *AssembledContext) UserMessage() string {
	var b strings.Builder
	b.WriteString("DOCUMENT EXCERPTS:\n")
	b.WriteString(c.RetrievedText)
	b.WriteString("\n\nDOCUMENT CATALOG:\n")
	b.WriteString(c.CatalogText)
	b.WriteString("\n\nQUESTION: ")
	b.WriteString(c.Query)
	return b.String()
}

// renderMatches renders each match as
// "Document {n} (from {source}, page {page}, relevance {score%}): {text}".
func renderMatches(matches []rag.RetrievedMatch) string {
	if len(matches) == 0 {
		return NoRelevantDocuments
	}

	parts := make([]string, 0, len(matches))
	for i, m := range matches {
		parts = append(parts, fmt.Sprintf("Document %d (from %s, page %d, relevance %.0f%%): %s",
			i+1, m.Source, m.Page, m.Score*100, m.Text))
	}
	return strings.Join(parts, "\n---\n")
}

// renderCatalog renders the registry's view of the namespace.
func renderCatalog(records []registry.Record, stats registry.Stats) string {
	if len(records) == 0 {
		return "The document collection is empty — no documents have been uploaded."
	}

	var b strings.Builder
	for _, rec := range records {
		fmt.Fprintf(&b, "- %s (%d pages, %d chunks, status %s, uploaded %s)\n",
			rec.FileName, rec.Pages, rec.TotalChunks, rec.Status,
			rec.UploadedAt.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "Totals: %d documents, %d chunks, %d pages, %.1f chunks per document on average.",
		stats.TotalDocuments, stats.TotalChunks, stats.TotalPages, stats.AverageChunksPerDocument)
	return b.String()
}

// renderHistory renders prior turns as "{Role}: {content}" lines in
// original order.
func renderHistory(history []Turn) string {
	if len(history) == 0 {
		return ""
	}
	lines := make([]string, 0, len(history))
	for _, t := range history {
		role := t.Role
		if len(role) > 0 {
			role = strings.ToUpper(role[:1]) + role[1:]
		}
		lines = append(lines, role+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}

// trimHistory drops the oldest turns until the history fits the remaining
// token budget. Returns the trimmed tail.
func trimHistory(history []Turn, remaining int) []Turn {
	if remaining <= 0 {
		return nil
	}
	total := 0
	for _, t := range history {
		total += budget.CountTurn(t.Role, t.Content)
	}
	for len(history) > 0 && total > remaining {
		total -= budget.CountTurn(history[0].Role, history[0].Content)
		history = history[1:]
	}
	return history
}
