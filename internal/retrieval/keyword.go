package retrieval

import (
	"sort"
	"strings"
	"unicode"

	"studybuddy/internal/ragcontext"
	"studybuddy/internal/store"
)

// =============================================================================
// KEYWORD FALLBACK - lexical search when the embedding engine is unavailable
// =============================================================================

// commonWords are dropped from queries before lexical matching.
var commonWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "what": true, "when": true, "where": true, "which": true,
	"who": true, "why": true, "how": true, "does": true, "do": true, "did": true,
	"can": true, "could": true, "would": true, "should": true, "about": true,
	"explain": true, "tell": true, "me": true, "of": true, "in": true, "on": true,
	"for": true, "to": true, "and": true, "or": true, "with": true, "this": true,
	"that": true, "it": true, "be": true, "by": true, "from": true, "at": true,
}

// ExtractTerms pulls the searchable terms out of a question: lowercased,
// punctuation stripped, stopwords and single letters dropped, deduplicated.
func ExtractTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool)
	var terms []string
	for _, f := range fields {
		if len(f) < 2 || commonWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}

// scoreContent counts how well content matches the terms: occurrences,
// plus a bonus per distinct term present so breadth beats repetition.
func scoreContent(content string, terms []string) float64 {
	lower := strings.ToLower(content)
	score := 0.0
	for _, term := range terms {
		n := strings.Count(lower, term)
		if n > 0 {
			score += 1.0 + float64(n)*0.1
		}
	}
	return score
}

// keywordSearch ranks lexically matching chunks of one corpus. It is the
// degraded path used when query embedding fails.
func (r *Retriever) keywordSearch(terms []string, corpus string, filters store.ChunkFilters) []ragcontext.Reference {
	if len(terms) == 0 {
		return nil
	}

	// Over-fetch candidates; final ranking happens here, not in SQL.
	candidates, err := r.store.KeywordCandidates(terms, corpus, filters, r.maxResults*4)
	if err != nil {
		return nil
	}

	type scored struct {
		chunk store.Chunk
		score float64
	}
	var hits []scored
	for _, chunk := range candidates {
		if s := scoreContent(chunk.Content, terms); s > 0 {
			hits = append(hits, scored{chunk, s})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})
	if len(hits) > r.maxResults {
		hits = hits[:r.maxResults]
	}

	refs := make([]ragcontext.Reference, len(hits))
	for i, hit := range hits {
		refs[i] = hit.chunk.ToReference()
	}
	return refs
}
