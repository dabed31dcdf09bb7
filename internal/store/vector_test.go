package store

import (
	"testing"
)

func storeChunk(t *testing.T, s *LocalStore, chunk Chunk, embedding []float32) {
	t.Helper()
	if _, err := s.StoreChunk(chunk, embedding); err != nil {
		t.Fatalf("StoreChunk failed: %v", err)
	}
}

func TestSearchChunksRanksBySimilarity(t *testing.T) {
	s := newTestStore(t)

	storeChunk(t, s, Chunk{Corpus: CorpusSlides, Content: "exact match", CourseID: "c1"}, []float32{1, 0, 0})
	storeChunk(t, s, Chunk{Corpus: CorpusSlides, Content: "orthogonal", CourseID: "c1"}, []float32{0, 1, 0})
	storeChunk(t, s, Chunk{Corpus: CorpusSlides, Content: "close", CourseID: "c1"}, []float32{0.9, 0.1, 0})

	results, err := s.SearchChunks([]float32{1, 0, 0}, CorpusSlides, ChunkFilters{}, 2)
	if err != nil {
		t.Fatalf("SearchChunks failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Chunk.Content != "exact match" {
		t.Errorf("best result = %q, want %q", results[0].Chunk.Content, "exact match")
	}
	if results[1].Chunk.Content != "close" {
		t.Errorf("second result = %q, want %q", results[1].Chunk.Content, "close")
	}
	if results[0].Similarity < results[1].Similarity {
		t.Errorf("results not sorted: %f < %f", results[0].Similarity, results[1].Similarity)
	}
}

func TestSearchChunksRespectsCorpus(t *testing.T) {
	s := newTestStore(t)

	storeChunk(t, s, Chunk{Corpus: CorpusSlides, Content: "slide content"}, []float32{1, 0})
	storeChunk(t, s, Chunk{Corpus: CorpusLectures, Content: "lecture content"}, []float32{1, 0})

	results, err := s.SearchChunks([]float32{1, 0}, CorpusLectures, ChunkFilters{}, 10)
	if err != nil {
		t.Fatalf("SearchChunks failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Chunk.Content != "lecture content" {
		t.Errorf("got %q, want the lecture chunk", results[0].Chunk.Content)
	}
}

func TestSearchChunksFilters(t *testing.T) {
	s := newTestStore(t)

	storeChunk(t, s, Chunk{Corpus: CorpusSlides, Content: "mine", CourseID: "c1", OwnerID: "u1"}, []float32{1, 0})
	storeChunk(t, s, Chunk{Corpus: CorpusSlides, Content: "other course", CourseID: "c2", OwnerID: "u1"}, []float32{1, 0})
	storeChunk(t, s, Chunk{Corpus: CorpusSlides, Content: "other owner", CourseID: "c1", OwnerID: "u2"}, []float32{1, 0})

	results, err := s.SearchChunks([]float32{1, 0}, CorpusSlides, ChunkFilters{CourseID: "c1", OwnerID: "u1"}, 10)
	if err != nil {
		t.Fatalf("SearchChunks failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Chunk.Content != "mine" {
		t.Errorf("got %q, want %q", results[0].Chunk.Content, "mine")
	}
}

func TestSearchChunksSkipsUnembedded(t *testing.T) {
	s := newTestStore(t)

	storeChunk(t, s, Chunk{Corpus: CorpusSlides, Content: "no embedding"}, nil)
	storeChunk(t, s, Chunk{Corpus: CorpusSlides, Content: "embedded"}, []float32{1, 0})

	results, err := s.SearchChunks([]float32{1, 0}, CorpusSlides, ChunkFilters{}, 10)
	if err != nil {
		t.Fatalf("SearchChunks failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Chunk.Content != "embedded" {
		t.Errorf("got %q, want the embedded chunk", results[0].Chunk.Content)
	}
}

func TestStoreChunkRejectsUnknownCorpus(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.StoreChunk(Chunk{Corpus: "podcast", Content: "x"}, nil); err == nil {
		t.Error("expected error for unknown corpus")
	}
}

func TestChunkToReference(t *testing.T) {
	slideNo := 4
	start := 12.5
	chunk := Chunk{
		Corpus:       CorpusSlides,
		Content:      "slide text",
		Name:         "Week 2 Deck",
		DocumentID:   "doc-9",
		SlideNumber:  &slideNo,
		StartSeconds: &start,
		CourseID:     "c1",
	}

	ref := chunk.ToReference()
	if ref.Content != "slide text" || ref.Name != "Week 2 Deck" {
		t.Errorf("content/name not carried over: %+v", ref)
	}
	if got := ref.Metadata["document_id"]; got != "doc-9" {
		t.Errorf("document_id = %v, want doc-9", got)
	}
	if got := ref.Metadata["slide_number"]; got != 4 {
		t.Errorf("slide_number = %v, want 4", got)
	}
	if _, ok := ref.Metadata["lecture_id"]; ok {
		t.Error("empty lecture_id should be omitted from metadata")
	}
}
