package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/docqa/docqa-go/internal/rag"
	"github.com/docqa/docqa-go/internal/registry"
)

func testMatches() []rag.RetrievedMatch {
	return []rag.RetrievedMatch{
		{ID: "1", Score: 0.92, Text: "termination requires 30 days notice", Source: "contract.pdf", Page: 4},
		{ID: "2", Score: 0.81, Text: "either party may terminate for cause", Source: "nda.pdf", Page: 2},
	}
}

func testRecords() []registry.Record {
	return []registry.Record{
		{DocumentID: "d1", FileName: "contract.pdf", Pages: 12, TotalChunks: 34,
			Status: registry.StatusCompleted, UploadedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{DocumentID: "d2", FileName: "nda.pdf", Pages: 5, TotalChunks: 9,
			Status: registry.StatusCompleted, UploadedAt: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
	}
}

func testStats() registry.Stats {
	return registry.Stats{TotalDocuments: 2, TotalChunks: 43, TotalPages: 17, AverageChunksPerDocument: 21.5}
}

func Test_Assembler_RendersMatchesWithSourceAndPage(t *testing.T) {
	t.Parallel()
	a := NewAssembler(0)

	ctx := a.Assemble("what is the termination clause?", testMatches(), nil, testRecords(), testStats())

	for _, want := range []string{"contract.pdf", "nda.pdf", "page 4", "page 2", "relevance 92%"} {
		if !strings.Contains(ctx.RetrievedText, want) {
			t.Errorf("retrieved text missing %q:\n%s", want, ctx.RetrievedText)
		}
	}
	if !strings.Contains(ctx.RetrievedText, "---") {
		t.Error("matches should be separated by a divider")
	}
}

func Test_Assembler_EmptyRetrievalUsesMarker(t *testing.T) {
	t.Parallel()
	a := NewAssembler(0)

	ctx := a.Assemble("anything here?", nil, nil, testRecords(), testStats())

	if ctx.RetrievedText != NoRelevantDocuments {
		t.Errorf("want the no-documents marker, got %q", ctx.RetrievedText)
	}
	if ctx.RetrievedText == "" {
		t.Error("empty retrieval must never render an empty string")
	}
}

func Test_Assembler_CatalogAlwaysIncluded(t *testing.T) {
	t.Parallel()
	a := NewAssembler(0)

	// Even with zero matches the catalog block carries the full inventory.
	ctx := a.Assemble("what documents do you have?", nil, nil, testRecords(), testStats())

	for _, want := range []string{"contract.pdf", "12 pages", "34 chunks", "Totals: 2 documents"} {
		if !strings.Contains(ctx.CatalogText, want) {
			t.Errorf("catalog text missing %q:\n%s", want, ctx.CatalogText)
		}
	}
}

func Test_Assembler_EmptyCatalogSaysSo(t *testing.T) {
	t.Parallel()
	a := NewAssembler(0)

	ctx := a.Assemble("hello", nil, nil, nil, registry.Stats{})
	if !strings.Contains(ctx.CatalogText, "empty") {
		t.Errorf("empty catalog must be stated explicitly, got %q", ctx.CatalogText)
	}
}

func Test_Assembler_CatalogIntentSwitchesInstructions(t *testing.T) {
	t.Parallel()
	a := NewAssembler(0)

	inventory := a.Assemble("what documents do you have?", nil, nil, testRecords(), testStats())
	if !inventory.CatalogIntent {
		t.Error("inventory question must set CatalogIntent")
	}
	if !strings.Contains(inventory.Instructions, "DOCUMENT CATALOG") {
		t.Error("inventory instructions must point at the catalog section")
	}

	content := a.Assemble("what is the termination clause?", testMatches(), nil, testRecords(), testStats())
	if content.CatalogIntent {
		t.Error("content question must not set CatalogIntent")
	}
	if strings.Contains(content.Instructions, "DOCUMENT CATALOG") {
		t.Error("content instructions must use the refine closing, not the catalog one")
	}
}

func Test_Assembler_HistoryRenderedInOrder(t *testing.T) {
	t.Parallel()
	a := NewAssembler(0)

	history := []Turn{
		{Role: RoleUser, Content: "first question"},
		{Role: RoleAssistant, Content: "first answer"},
	}
	ctx := a.Assemble("follow-up", nil, history, nil, registry.Stats{})

	want := "User: first question\nAssistant: first answer"
	if ctx.HistoryText != want {
		t.Errorf("history rendering mismatch:\nwant %q\ngot  %q", want, ctx.HistoryText)
	}
}

func Test_Assembler_HistoryTrimmedOldestFirst(t *testing.T) {
	t.Parallel()

	// A tiny budget forces trimming; the newest turn must survive longest.
	a := NewAssembler(1)

	history := []Turn{
		{Role: RoleUser, Content: strings.Repeat("old ", 200)},
		{Role: RoleAssistant, Content: strings.Repeat("older answer ", 200)},
		{Role: RoleUser, Content: "newest"},
	}
	ctx := a.Assemble("q", nil, history, nil, registry.Stats{})

	if strings.Contains(ctx.HistoryText, "old old") {
		t.Error("oldest turns must be dropped first under budget pressure")
	}
}

func Test_Assembler_TrimmedTurnsCarriedForGeneration(t *testing.T) {
	t.Parallel()

	// The budget must bound the turns handed to generation, not just the
	// rendered text: History and HistoryText always describe the same tail.
	a := NewAssembler(1)

	history := []Turn{
		{Role: RoleUser, Content: strings.Repeat("overflowing question ", 400)},
		{Role: RoleAssistant, Content: strings.Repeat("overflowing answer ", 400)},
	}
	ctx := a.Assemble("q", nil, history, nil, registry.Stats{})

	if ctx.HistoryText != "" {
		t.Fatalf("budget of 1 token should drop all history text, got %d bytes", len(ctx.HistoryText))
	}
	if len(ctx.History) != 0 {
		t.Errorf("dropped turns must not be carried for generation, got %d turns", len(ctx.History))
	}

	roomy := NewAssembler(0)
	ctx = roomy.Assemble("q", nil, history, nil, registry.Stats{})
	if len(ctx.History) != 2 {
		t.Errorf("turns within budget must be carried, got %d", len(ctx.History))
	}
}

func Test_Assembler_UserMessageComposesSections(t *testing.T) {
	t.Parallel()
	a := NewAssembler(0)

	ctx := a.Assemble("what is the termination clause?", testMatches(), nil, testRecords(), testStats())
	msg := ctx.UserMessage()

	excerpts := strings.Index(msg, "DOCUMENT EXCERPTS:")
	catalog := strings.Index(msg, "DOCUMENT CATALOG:")
	question := strings.Index(msg, "QUESTION: what is the termination clause?")
	if excerpts == -1 || catalog == -1 || question == -1 {
		t.Fatalf("user message missing a section:\n%s", msg)
	}
	if !(excerpts < catalog && catalog < question) {
		t.Error("sections must appear as excerpts, catalog, question")
	}
}

func Test_IsCatalogQuery_Patterns(t *testing.T) {
	t.Parallel()

	cases := []struct {
		query string
		want  bool
	}{
		{"What documents do you have?", true},
		{"LIST DOCUMENTS", true},
		{"how many files are there", true},
		{"Could you show my documents please", true},
		{"what is the termination clause?", false},
		{"summarize page 3", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsCatalogQuery(tc.query); got != tc.want {
			t.Errorf("IsCatalogQuery(%q) = %v, want %v", tc.query, got, tc.want)
		}
	}
}
