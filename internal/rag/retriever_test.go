package rag

import (
	"context"
	"fmt"
	"testing"
)

// stubEmbedder returns a fixed vector per text, or a forced error.
type stubEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vector
	}
	return out, nil
}

// stubIndex records Query arguments and returns canned matches.
type stubIndex struct {
	matches   []RetrievedMatch
	err       error
	gotTopK   int
	gotNS     string
	gotVector []float32
}

func (s *stubIndex) Upsert(context.Context, string, []VectorRecord) error { return nil }
func (s *stubIndex) Query(_ context.Context, namespace string, vector []float32, topK int) ([]RetrievedMatch, error) {
	s.gotNS = namespace
	s.gotVector = vector
	s.gotTopK = topK
	return s.matches, s.err
}
func (s *stubIndex) DeleteByIDs(context.Context, string, []string) error      { return nil }
func (s *stubIndex) DeleteByDocument(context.Context, string, string) error   { return nil }
func (s *stubIndex) DeleteAll(context.Context, string) error                  { return nil }
func (s *stubIndex) ListDocumentIDs(context.Context, string) (map[string]int, error) {
	return nil, nil
}
func (s *stubIndex) Close() error { return nil }

func Test_Retriever_RequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewRetriever(nil, &stubIndex{}, 5); err == nil {
		t.Error("nil embedder must be rejected")
	}
	if _, err := NewRetriever(&stubEmbedder{}, nil, 5); err == nil {
		t.Error("nil index must be rejected")
	}
}

func Test_Retriever_PassesQueryVectorAndNamespace(t *testing.T) {
	t.Parallel()

	emb := &stubEmbedder{vector: []float32{0.1, 0.2, 0.3}}
	idx := &stubIndex{matches: []RetrievedMatch{{ID: "m1", Score: 0.9}}}
	r, err := NewRetriever(emb, idx, 5)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}

	matches, err := r.Retrieve(context.Background(), "question", "ns-a", 3)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "m1" {
		t.Errorf("unexpected matches: %v", matches)
	}
	if idx.gotNS != "ns-a" {
		t.Errorf("namespace not forwarded, got %q", idx.gotNS)
	}
	if idx.gotTopK != 3 {
		t.Errorf("topK not forwarded, got %d", idx.gotTopK)
	}
	if len(idx.gotVector) != 3 || idx.gotVector[0] != 0.1 {
		t.Errorf("query vector not forwarded, got %v", idx.gotVector)
	}
}

func Test_Retriever_DefaultTopKApplied(t *testing.T) {
	t.Parallel()

	idx := &stubIndex{}
	r, err := NewRetriever(&stubEmbedder{vector: []float32{1}}, idx, 7)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}

	if _, err := r.Retrieve(context.Background(), "q", "ns", 0); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if idx.gotTopK != 7 {
		t.Errorf("topK=0 must fall back to the default, got %d", idx.gotTopK)
	}
}

func Test_Retriever_EmptyResultIsNotAnError(t *testing.T) {
	t.Parallel()

	idx := &stubIndex{matches: nil}
	r, err := NewRetriever(&stubEmbedder{vector: []float32{1}}, idx, 5)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}

	matches, err := r.Retrieve(context.Background(), "q", "empty-ns", 0)
	if err != nil {
		t.Fatalf("empty namespace must not error: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("want no matches, got %d", len(matches))
	}
}

func Test_Retriever_EmbeddingFailurePropagates(t *testing.T) {
	t.Parallel()

	emb := &stubEmbedder{err: fmt.Errorf("embedding service down")}
	r, err := NewRetriever(emb, &stubIndex{}, 5)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}

	if _, err := r.Retrieve(context.Background(), "q", "ns", 0); err == nil {
		t.Error("embedding failure must surface as an error")
	}
}

func Test_Retriever_SearchFailurePropagates(t *testing.T) {
	t.Parallel()

	idx := &stubIndex{err: fmt.Errorf("index unavailable")}
	r, err := NewRetriever(&stubEmbedder{vector: []float32{1}}, idx, 5)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}

	if _, err := r.Retrieve(context.Background(), "q", "ns", 0); err == nil {
		t.Error("search failure must surface as an error")
	}
}
