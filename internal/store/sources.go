package store

import (
	"fmt"
	"strings"

	"studybuddy/internal/logging"
	"studybuddy/internal/source"
)

// SaveMessageSources persists the sources cited by one assistant message.
// Inserts use INSERT OR IGNORE against the (message_id, source_id) unique
// constraint, so saving the same sources again is a no-op rather than a
// duplicate. Saving an empty slice is also a no-op.
func (s *LocalStore) SaveMessageSources(messageID, sessionID string, sources []source.Source) error {
	if len(sources) == 0 {
		return nil
	}
	if messageID == "" {
		return fmt.Errorf("message id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryStore, "SaveMessageSources")
	defer timer.Stop()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO message_sources
		(message_id, session_id, source_id, source_type, content_preview, chunk_number,
		 document_id, slide_number, lecture_id, start_seconds, end_seconds,
		 course_id, owner_id, title)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare source insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, src := range sources {
		res, err := stmt.Exec(
			messageID, sessionID, src.SourceID, string(src.SourceType), src.ContentPreview, src.ChunkNumber,
			src.DocumentID, src.SlideNumber, src.LectureID, src.StartSeconds, src.EndSeconds,
			src.CourseID, src.OwnerID, src.Title,
		)
		if err != nil {
			return fmt.Errorf("failed to insert source %s: %w", src.SourceID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sources: %w", err)
	}

	logging.StoreDebug("Saved sources for message %s: %d inserted, %d already present",
		messageID, inserted, len(sources)-inserted)
	return nil
}

// LoadSourcesForMessages returns the stored sources for each of the given
// message ids, grouped by message and ordered by chunk number. Messages with
// no sources are absent from the map.
func (s *LocalStore) LoadSourcesForMessages(messageIDs []string) (map[string][]source.Source, error) {
	grouped := make(map[string][]source.Source)
	if len(messageIDs) == 0 {
		return grouped, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := strings.Repeat("?,", len(messageIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT message_id, source_id, source_type, content_preview, chunk_number,
		       document_id, slide_number, lecture_id, start_seconds, end_seconds,
		       course_id, owner_id, title
		FROM message_sources
		WHERE message_id IN (%s)
		ORDER BY message_id, chunk_number ASC, id ASC`, placeholders)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	defer rows.Close()

	total := 0
	for rows.Next() {
		var messageID string
		var src source.Source
		var srcType string
		if err := rows.Scan(
			&messageID, &src.SourceID, &srcType, &src.ContentPreview, &src.ChunkNumber,
			&src.DocumentID, &src.SlideNumber, &src.LectureID, &src.StartSeconds, &src.EndSeconds,
			&src.CourseID, &src.OwnerID, &src.Title,
		); err != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping malformed source row: %v", err)
			continue
		}
		src.SourceType = source.Type(srcType)
		grouped[messageID] = append(grouped[messageID], src)
		total++
	}

	logging.StoreDebug("Loaded %d sources across %d of %d messages", total, len(grouped), len(messageIDs))
	return grouped, rows.Err()
}

// LoadSourcesForMessage returns the stored sources for a single message.
func (s *LocalStore) LoadSourcesForMessage(messageID string) ([]source.Source, error) {
	grouped, err := s.LoadSourcesForMessages([]string{messageID})
	if err != nil {
		return nil, err
	}
	return grouped[messageID], nil
}

// DeleteSourcesForSession removes all source rows belonging to a session.
// Returns the number of rows removed.
func (s *LocalStore) DeleteSourcesForSession(sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM message_sources WHERE session_id = ?", sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete session sources: %w", err)
	}

	n, _ := res.RowsAffected()
	logging.StoreDebug("Deleted %d sources for session %s", n, sessionID)
	return n, nil
}
