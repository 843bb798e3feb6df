package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/docqa/docqa-go/internal/chunker"
	"github.com/docqa/docqa-go/internal/generator"
	"github.com/docqa/docqa-go/internal/prompt"
	"github.com/docqa/docqa-go/internal/rag"
	"github.com/docqa/docqa-go/internal/registry"
)

// memEmbedder produces a deterministic vector per text so retrieval behaves
// consistently across test runs.
type memEmbedder struct {
	failNext bool
}

func (m *memEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if m.failNext {
		m.failNext = false
		return nil, fmt.Errorf("embedding backend unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		var h float32
		for _, r := range t {
			h += float32(r)
		}
		out[i] = []float32{h, float32(len(t)), 1}
	}
	return out, nil
}

// memIndex is an in-memory VectorIndex. Query returns the namespace's records
// in insertion order, capped at topK, which is enough for pipeline-level
// assertions.
type memIndex struct {
	mu sync.Mutex
	// records maps namespace -> stored records in upsert order.
	records map[string][]rag.VectorRecord

	upsertErr error
}

func newMemIndex() *memIndex {
	return &memIndex{records: make(map[string][]rag.VectorRecord)}
}

func (m *memIndex) Upsert(_ context.Context, namespace string, records []rag.VectorRecord) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		replaced := false
		for i, existing := range m.records[namespace] {
			if existing.ID == rec.ID {
				m.records[namespace][i] = rec
				replaced = true
				break
			}
		}
		if !replaced {
			m.records[namespace] = append(m.records[namespace], rec)
		}
	}
	return nil
}

func (m *memIndex) Query(_ context.Context, namespace string, _ []float32, topK int) ([]rag.RetrievedMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []rag.RetrievedMatch
	for _, rec := range m.records[namespace] {
		if len(matches) == topK {
			break
		}
		matches = append(matches, rag.RetrievedMatch{
			ID:     rec.ID,
			Score:  0.9,
			Text:   rec.Metadata.Text,
			Source: rec.Metadata.Source,
			Page:   rec.Metadata.Page,
		})
	}
	return matches, nil
}

func (m *memIndex) DeleteByIDs(_ context.Context, namespace string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := m.records[namespace][:0]
	for _, rec := range m.records[namespace] {
		if !drop[rec.ID] {
			kept = append(kept, rec)
		}
	}
	m.records[namespace] = kept
	return nil
}

func (m *memIndex) DeleteByDocument(_ context.Context, namespace, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[namespace][:0]
	for _, rec := range m.records[namespace] {
		if rec.Metadata.DocumentID != documentID {
			kept = append(kept, rec)
		}
	}
	m.records[namespace] = kept
	return nil
}

func (m *memIndex) DeleteAll(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, namespace)
	return nil
}

func (m *memIndex) ListDocumentIDs(_ context.Context, namespace string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, rec := range m.records[namespace] {
		counts[rec.Metadata.DocumentID]++
	}
	return counts, nil
}

func (m *memIndex) Close() error { return nil }

func (m *memIndex) count(namespace string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[namespace])
}

// echoChatModel replies with a fixed answer and records the messages it saw
// so tests can assert on the assembled context and the replayed history.
type echoChatModel struct {
	answer      string
	lastUserMsg string
	messages    []*schema.Message
}

func (e *echoChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	e.messages = input
	for i := len(input) - 1; i >= 0; i-- {
		if input[i].Role == schema.User {
			e.lastUserMsg = input[i].Content
			break
		}
	}
	return schema.AssistantMessage(e.answer, nil), nil
}

func (e *echoChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("stream not supported in fake")
}

var _ model.BaseChatModel = (*echoChatModel)(nil)

// newTestService wires a Service entirely from in-memory fakes.
func newTestService(t *testing.T, emb *memEmbedder, index *memIndex, chat *echoChatModel) *Service {
	t.Helper()

	reg, err := registry.Open(&registry.Config{
		DBPath:       ":memory:",
		Vectors:      index,
		SyncInterval: time.Minute,
	})
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	svc, err := New(&Config{
		Embedder:  emb,
		Index:     index,
		Registry:  reg,
		Generator: generator.New(chat),
		ChunkSize: 60,
		// Small chunks force multi-chunk documents from modest fixtures.
		ChunkOverlap: 10,
		TopK:         5,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func fixturePages() []chunker.Page {
	return []chunker.Page{
		{Number: 1, Text: strings.Repeat("the contract terminates after thirty days notice ", 3)},
		{Number: 2, Text: strings.Repeat("payment is due within fourteen days of invoice ", 3)},
	}
}

func Test_Pipeline_IngestIndexesAndRegisters(t *testing.T) {
	t.Parallel()
	index := newMemIndex()
	svc := newTestService(t, &memEmbedder{}, index, &echoChatModel{answer: "ok"})
	ctx := context.Background()

	res, err := svc.Ingest(ctx, fixturePages(), "contract.pdf", "ns")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.DocumentID == "" {
		t.Error("ingest must assign a document ID")
	}
	if res.Pages != 2 {
		t.Errorf("want 2 pages, got %d", res.Pages)
	}
	if res.ChunkCount < 2 {
		t.Errorf("fixture should produce multiple chunks, got %d", res.ChunkCount)
	}
	if got := index.count("ns"); got != res.ChunkCount {
		t.Errorf("index holds %d records, want %d", got, res.ChunkCount)
	}

	docs, err := svc.ListDocuments(ctx, "ns")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("want 1 registered document, got %d", len(docs))
	}
	if docs[0].Status != registry.StatusCompleted {
		t.Errorf("want completed status, got %s", docs[0].Status)
	}
	if docs[0].TotalChunks != res.ChunkCount {
		t.Errorf("registered chunk count %d != ingest result %d", docs[0].TotalChunks, res.ChunkCount)
	}
}

func Test_Pipeline_IngestEmptyDocumentFails(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, &memEmbedder{}, newMemIndex(), &echoChatModel{answer: "ok"})

	_, err := svc.Ingest(context.Background(), []chunker.Page{{Number: 1, Text: ""}}, "blank.pdf", "ns")
	if err == nil {
		t.Fatal("a document with no extractable text must fail ingest")
	}
}

func Test_Pipeline_FailedEmbeddingMarksDocumentFailed(t *testing.T) {
	t.Parallel()
	emb := &memEmbedder{failNext: true}
	svc := newTestService(t, emb, newMemIndex(), &echoChatModel{answer: "ok"})
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, fixturePages(), "doomed.pdf", "ns"); err == nil {
		t.Fatal("embedding failure must fail the ingest")
	}

	docs, err := svc.ListDocuments(ctx, "ns")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 || docs[0].Status != registry.StatusFailed {
		t.Errorf("aborted ingest must leave a failed record, got %v", docs)
	}
}

func Test_Pipeline_AskAnswersWithSources(t *testing.T) {
	t.Parallel()
	chat := &echoChatModel{answer: "thirty days notice is required"}
	svc := newTestService(t, &memEmbedder{}, newMemIndex(), chat)
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, fixturePages(), "contract.pdf", "ns"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	answer, err := svc.Ask(ctx, "when does the contract terminate?", "ns", nil)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if answer.Text != "thirty days notice is required" {
		t.Errorf("want the model's raw answer, got %q", answer.Text)
	}
	if len(answer.Matches) == 0 {
		t.Fatal("want retrieved matches")
	}
	if answer.Matches[0].Source != "contract.pdf" {
		t.Errorf("match source must carry the file name, got %q", answer.Matches[0].Source)
	}
	if !strings.Contains(chat.lastUserMsg, "DOCUMENT EXCERPTS:") {
		t.Error("model must receive the assembled excerpts block")
	}
}

func Test_Pipeline_AskContextBudgetBoundsModelInput(t *testing.T) {
	t.Parallel()
	index := newMemIndex()
	chat := &echoChatModel{answer: "ok"}

	reg, err := registry.Open(&registry.Config{
		DBPath:       ":memory:",
		Vectors:      index,
		SyncInterval: time.Minute,
	})
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	// A budget the fixed blocks alone exceed: every history turn must be
	// dropped from the messages actually sent to the model.
	svc, err := New(&Config{
		Embedder:         &memEmbedder{},
		Index:            index,
		Registry:         reg,
		Generator:        generator.New(chat),
		ChunkSize:        60,
		ChunkOverlap:     10,
		TopK:             5,
		MaxContextTokens: 40,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, fixturePages(), "contract.pdf", "ns"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	history := []prompt.Turn{
		{Role: prompt.RoleUser, Content: strings.Repeat("earlier question ", 500)},
		{Role: prompt.RoleAssistant, Content: strings.Repeat("earlier answer ", 500)},
		{Role: prompt.RoleUser, Content: strings.Repeat("another question ", 500)},
		{Role: prompt.RoleAssistant, Content: strings.Repeat("another answer ", 500)},
	}

	if _, err := svc.Ask(ctx, "when does the contract terminate?", "ns", history); err != nil {
		t.Fatalf("ask: %v", err)
	}

	// System block + final user turn only; the over-budget history must not
	// reach the model.
	if len(chat.messages) != 2 {
		t.Fatalf("want 2 messages (system + user), got %d", len(chat.messages))
	}
	for _, m := range chat.messages {
		if strings.Contains(m.Content, "earlier question") {
			t.Error("dropped history leaked into the model input")
		}
	}
}

func Test_Pipeline_AskRejectsEmptyQuery(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, &memEmbedder{}, newMemIndex(), &echoChatModel{answer: "ok"})

	if _, err := svc.Ask(context.Background(), "   ", "ns", nil); err == nil {
		t.Fatal("blank query must be rejected")
	}
}

func Test_Pipeline_CatalogQuestionSeesInventory(t *testing.T) {
	t.Parallel()
	chat := &echoChatModel{answer: "you have one document"}
	svc := newTestService(t, &memEmbedder{}, newMemIndex(), chat)
	ctx := context.Background()

	res, err := svc.Ingest(ctx, fixturePages(), "contract.pdf", "ns")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if _, err := svc.Ask(ctx, "what documents do you have?", "ns", nil); err != nil {
		t.Fatalf("ask: %v", err)
	}

	if !strings.Contains(chat.lastUserMsg, "contract.pdf") {
		t.Error("catalog block must mention the file name")
	}
	if !strings.Contains(chat.lastUserMsg, fmt.Sprintf("%d chunks", res.ChunkCount)) {
		t.Errorf("catalog block must mention the chunk count %d:\n%s", res.ChunkCount, chat.lastUserMsg)
	}
}

func Test_Pipeline_AskAfterDeleteAllSeesEmptyCollection(t *testing.T) {
	t.Parallel()
	chat := &echoChatModel{answer: "nothing here"}
	index := newMemIndex()
	svc := newTestService(t, &memEmbedder{}, index, chat)
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, fixturePages(), "contract.pdf", "ns"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	res, err := svc.DeleteAllDocuments(ctx, "ns")
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if !res.VectorsDeleted {
		t.Error("want vectorsDeleted=true with a healthy index")
	}
	if index.count("ns") != 0 {
		t.Error("index must be empty after delete all")
	}

	answer, err := svc.Ask(ctx, "what do the documents say?", "ns", nil)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if len(answer.Matches) != 0 {
		t.Errorf("want no matches after delete all, got %d", len(answer.Matches))
	}
	if !strings.Contains(chat.lastUserMsg, "No relevant documents were found") {
		t.Error("model must see the explicit no-documents marker")
	}
}

func Test_Pipeline_DeleteDocumentRemovesItsVectors(t *testing.T) {
	t.Parallel()
	index := newMemIndex()
	svc := newTestService(t, &memEmbedder{}, index, &echoChatModel{answer: "ok"})
	ctx := context.Background()

	first, err := svc.Ingest(ctx, fixturePages(), "a.pdf", "ns")
	if err != nil {
		t.Fatalf("ingest a: %v", err)
	}
	second, err := svc.Ingest(ctx, fixturePages(), "b.pdf", "ns")
	if err != nil {
		t.Fatalf("ingest b: %v", err)
	}

	if _, err := svc.DeleteDocument(ctx, "ns", first.DocumentID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if got := index.count("ns"); got != second.ChunkCount {
		t.Errorf("only the second document's %d chunks should remain, got %d", second.ChunkCount, got)
	}
	docs, err := svc.ListDocuments(ctx, "ns")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 || docs[0].DocumentID != second.DocumentID {
		t.Errorf("catalog should hold only the second document, got %v", docs)
	}
}

func Test_Pipeline_ReingestUpsertsDeterministicChunkIDs(t *testing.T) {
	t.Parallel()
	index := newMemIndex()
	svc := newTestService(t, &memEmbedder{}, index, &echoChatModel{answer: "ok"})
	ctx := context.Background()

	// Two ingests of the same content create two documents with distinct
	// chunk IDs: IDs derive from the document ID, not the content.
	a, err := svc.Ingest(ctx, fixturePages(), "same.pdf", "ns")
	if err != nil {
		t.Fatalf("ingest 1: %v", err)
	}
	b, err := svc.Ingest(ctx, fixturePages(), "same.pdf", "ns")
	if err != nil {
		t.Fatalf("ingest 2: %v", err)
	}
	if a.DocumentID == b.DocumentID {
		t.Error("re-ingesting must create a new document identity")
	}
	if got := index.count("ns"); got != a.ChunkCount+b.ChunkCount {
		t.Errorf("both documents' chunks must coexist, got %d records", got)
	}
}

func Test_Pipeline_StatsReflectIngests(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, &memEmbedder{}, newMemIndex(), &echoChatModel{answer: "ok"})
	ctx := context.Background()

	res, err := svc.Ingest(ctx, fixturePages(), "contract.pdf", "ns")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	stats, err := svc.Stats(ctx, "ns")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalDocuments != 1 || stats.TotalChunks != res.ChunkCount || stats.TotalPages != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
