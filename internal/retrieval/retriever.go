// Package retrieval finds course-material chunks relevant to a question.
// It embeds the query once and searches the slide and lecture corpora
// separately, merging slide hits ahead of lecture hits.
package retrieval

import (
	"context"

	"studybuddy/internal/embedding"
	"studybuddy/internal/logging"
	"studybuddy/internal/ragcontext"
	"studybuddy/internal/store"
)

// Filters scopes a search to a user's view of the material.
// Empty fields match everything.
type Filters struct {
	OwnerID    string
	CourseID   string
	DocumentID string
	LectureID  string
}

// Retriever performs semantic search over stored chunks.
type Retriever struct {
	store      *store.LocalStore
	engine     embedding.EmbeddingEngine
	maxResults int
}

// New creates a retriever. maxResults caps the hits taken from each corpus.
func New(s *store.LocalStore, engine embedding.EmbeddingEngine, maxResults int) *Retriever {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Retriever{store: s, engine: engine, maxResults: maxResults}
}

// Search returns references for the chunks most relevant to the query,
// slides first, then lecture transcript segments. A corpus whose search
// fails contributes nothing rather than failing the whole call. When the
// query cannot be embedded the search degrades to lexical keyword matching
// instead of erroring, so a down embedding service still yields answers.
func (r *Retriever) Search(ctx context.Context, query string, f Filters) ([]ragcontext.Reference, error) {
	timer := logging.StartTimer(logging.CategoryRetrieval, "Search")
	defer timer.Stop()

	filters := store.ChunkFilters{
		CourseID:   f.CourseID,
		OwnerID:    f.OwnerID,
		DocumentID: f.DocumentID,
		LectureID:  f.LectureID,
	}

	queryEmbedding, err := r.engine.Embed(ctx, query)
	if err != nil {
		logging.Get(logging.CategoryRetrieval).Warn("Query embedding failed, falling back to keyword search: %v", err)
		return r.searchKeyword(query, filters), nil
	}

	var refs []ragcontext.Reference
	for _, corpus := range []string{store.CorpusSlides, store.CorpusLectures} {
		hits, err := r.store.SearchChunks(queryEmbedding, corpus, filters, r.maxResults)
		if err != nil {
			logging.Get(logging.CategoryRetrieval).Warn("Search over %s corpus failed: %v", corpus, err)
			continue
		}
		for _, hit := range hits {
			refs = append(refs, hit.Chunk.ToReference())
		}
	}

	logging.Retrieval("Search %q returned %d references", query, len(refs))
	return refs, nil
}

// searchKeyword runs the lexical fallback over both corpora, keeping the
// slides-before-lectures merge order.
func (r *Retriever) searchKeyword(query string, filters store.ChunkFilters) []ragcontext.Reference {
	terms := ExtractTerms(query)

	var refs []ragcontext.Reference
	for _, corpus := range []string{store.CorpusSlides, store.CorpusLectures} {
		refs = append(refs, r.keywordSearch(terms, corpus, filters)...)
	}

	logging.Retrieval("Keyword search %q returned %d references", query, len(refs))
	return refs
}
