// Vector search over course-material chunks. Embeddings are stored as JSON
// alongside the chunk row and scored with cosine similarity in Go, which is
// plenty for per-course corpora. The sqlite_vec build tag swaps in the cgo
// driver with the sqlite-vec extension for larger deployments.
package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"studybuddy/internal/embedding"
	"studybuddy/internal/logging"
	"studybuddy/internal/ragcontext"
)

// Corpus names for chunk storage.
const (
	CorpusSlides   = "slide"
	CorpusLectures = "lecture"
)

// Chunk is one retrievable unit of course material.
type Chunk struct {
	ID           int64
	Corpus       string
	Content      string
	Name         string
	DocumentID   string
	SlideNumber  *int
	LectureID    string
	StartSeconds *float64
	EndSeconds   *float64
	CourseID     string
	OwnerID      string
}

// ScoredChunk pairs a chunk with its similarity to a query embedding.
type ScoredChunk struct {
	Chunk      Chunk
	Similarity float64
}

// ChunkFilters narrows a chunk search. Empty fields match everything.
type ChunkFilters struct {
	CourseID   string
	OwnerID    string
	DocumentID string
	LectureID  string
}

// ToReference converts a chunk into the reference shape the context
// formatter consumes.
func (c Chunk) ToReference() ragcontext.Reference {
	meta := map[string]interface{}{}
	if c.DocumentID != "" {
		meta["document_id"] = c.DocumentID
	}
	if c.SlideNumber != nil {
		meta["slide_number"] = *c.SlideNumber
	}
	if c.LectureID != "" {
		meta["lecture_id"] = c.LectureID
	}
	if c.StartSeconds != nil {
		meta["start_seconds"] = *c.StartSeconds
	}
	if c.EndSeconds != nil {
		meta["end_seconds"] = *c.EndSeconds
	}
	if c.CourseID != "" {
		meta["course_id"] = c.CourseID
	}
	if c.OwnerID != "" {
		meta["owner_id"] = c.OwnerID
	}

	return ragcontext.Reference{
		Content:  c.Content,
		Name:     c.Name,
		Metadata: meta,
	}
}

// StoreChunk inserts a chunk with its embedding. The embedding may be nil
// for content indexed before an engine was configured.
func (s *LocalStore) StoreChunk(chunk Chunk, embeddingVec []float32) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if chunk.Corpus != CorpusSlides && chunk.Corpus != CorpusLectures {
		return 0, fmt.Errorf("unknown corpus: %q", chunk.Corpus)
	}

	var embeddingJSON interface{}
	if embeddingVec != nil {
		raw, err := json.Marshal(embeddingVec)
		if err != nil {
			return 0, fmt.Errorf("failed to serialize embedding: %w", err)
		}
		embeddingJSON = string(raw)
	}

	res, err := s.db.Exec(`
		INSERT INTO chunks
		(corpus, content, embedding, name, document_id, slide_number, lecture_id,
		 start_seconds, end_seconds, course_id, owner_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chunk.Corpus, chunk.Content, embeddingJSON, chunk.Name,
		chunk.DocumentID, chunk.SlideNumber, chunk.LectureID,
		chunk.StartSeconds, chunk.EndSeconds, chunk.CourseID, chunk.OwnerID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to store chunk: %w", err)
	}

	id, _ := res.LastInsertId()
	logging.StoreDebug("Stored %s chunk %d (%d chars, embedded=%v)",
		chunk.Corpus, id, len(chunk.Content), embeddingVec != nil)
	return id, nil
}

// SearchChunks returns the chunks of one corpus most similar to the query
// embedding, best first. Chunks without embeddings are skipped.
func (s *LocalStore) SearchChunks(queryEmbedding []float32, corpus string, f ChunkFilters, limit int) ([]ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	timer := logging.StartTimer(logging.CategoryStore, "SearchChunks")
	defer timer.Stop()

	if limit <= 0 {
		limit = 5
	}

	query := `
		SELECT id, corpus, content, embedding, name, document_id, slide_number,
		       lecture_id, start_seconds, end_seconds, course_id, owner_id
		FROM chunks
		WHERE corpus = ? AND embedding IS NOT NULL`
	args := []interface{}{corpus}

	var conds []string
	if f.CourseID != "" {
		conds = append(conds, "course_id = ?")
		args = append(args, f.CourseID)
	}
	if f.OwnerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.DocumentID != "" {
		conds = append(conds, "document_id = ?")
		args = append(args, f.DocumentID)
	}
	if f.LectureID != "" {
		conds = append(conds, "lecture_id = ?")
		args = append(args, f.LectureID)
	}
	if len(conds) > 0 {
		query += " AND " + strings.Join(conds, " AND ")
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var scored []ScoredChunk
	skipped := 0

	for rows.Next() {
		var chunk Chunk
		var embeddingJSON string
		if err := rows.Scan(
			&chunk.ID, &chunk.Corpus, &chunk.Content, &embeddingJSON, &chunk.Name,
			&chunk.DocumentID, &chunk.SlideNumber, &chunk.LectureID,
			&chunk.StartSeconds, &chunk.EndSeconds, &chunk.CourseID, &chunk.OwnerID,
		); err != nil {
			skipped++
			continue
		}

		var vec []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &vec); err != nil {
			skipped++
			continue
		}

		similarity, err := embedding.CosineSimilarity(queryEmbedding, vec)
		if err != nil {
			skipped++
			continue
		}

		scored = append(scored, ScoredChunk{Chunk: chunk, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if skipped > 0 {
		logging.Get(logging.CategoryStore).Warn("SearchChunks: skipped %d chunks (bad rows or dimension mismatch)", skipped)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}

	logging.StoreDebug("SearchChunks: corpus=%s returned %d results (limit=%d)", corpus, len(scored), limit)
	return scored, nil
}

// KeywordCandidates fetches chunks of one corpus whose content contains any
// of the given terms. Candidates only; the caller ranks them.
func (s *LocalStore) KeywordCandidates(terms []string, corpus string, f ChunkFilters, limit int) ([]Chunk, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, corpus, content, name, document_id, slide_number,
		       lecture_id, start_seconds, end_seconds, course_id, owner_id
		FROM chunks
		WHERE corpus = ?`
	args := []interface{}{corpus}

	likes := make([]string, len(terms))
	for i, term := range terms {
		likes[i] = "content LIKE ?"
		args = append(args, "%"+term+"%")
	}
	query += " AND (" + strings.Join(likes, " OR ") + ")"

	if f.CourseID != "" {
		query += " AND course_id = ?"
		args = append(args, f.CourseID)
	}
	if f.OwnerID != "" {
		query += " AND owner_id = ?"
		args = append(args, f.OwnerID)
	}
	if f.DocumentID != "" {
		query += " AND document_id = ?"
		args = append(args, f.DocumentID)
	}
	if f.LectureID != "" {
		query += " AND lecture_id = ?"
		args = append(args, f.LectureID)
	}

	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query keyword candidates: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var chunk Chunk
		if err := rows.Scan(
			&chunk.ID, &chunk.Corpus, &chunk.Content, &chunk.Name,
			&chunk.DocumentID, &chunk.SlideNumber, &chunk.LectureID,
			&chunk.StartSeconds, &chunk.EndSeconds, &chunk.CourseID, &chunk.OwnerID,
		); err != nil {
			continue
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// ChunkCount returns the number of chunks stored for a corpus.
// An empty corpus counts everything.
func (s *LocalStore) ChunkCount(corpus string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	var err error
	if corpus == "" {
		err = s.db.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&count)
	} else {
		err = s.db.QueryRow("SELECT COUNT(*) FROM chunks WHERE corpus = ?", corpus).Scan(&count)
	}
	return count, err
}
