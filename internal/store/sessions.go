package store

import (
	"database/sql"
	"fmt"
	"time"

	"studybuddy/internal/logging"
)

// Session is a persisted chat session.
type Session struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	CourseID  string    `json:"course_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a persisted chat message.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EnsureSession creates the session row if it does not exist yet.
// Existing sessions are left untouched.
func (s *LocalStore) EnsureSession(id, ownerID, courseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		return fmt.Errorf("session id is required")
	}

	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO chat_sessions (id, owner_id, course_id) VALUES (?, ?, ?)",
		id, ownerID, courseID,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure session: %w", err)
	}

	logging.StoreDebug("Ensured session %s (owner=%s, course=%s)", id, ownerID, courseID)
	return nil
}

// GetSession returns a session by id, or sql.ErrNoRows if missing.
func (s *LocalStore) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess Session
	err := s.db.QueryRow(
		"SELECT id, owner_id, course_id, title, created_at, updated_at FROM chat_sessions WHERE id = ?",
		id,
	).Scan(&sess.ID, &sess.OwnerID, &sess.CourseID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessions returns all sessions, most recently active first.
func (s *LocalStore) ListSessions() ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT id, owner_id, course_id, title, created_at, updated_at FROM chat_sessions ORDER BY updated_at DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.OwnerID, &sess.CourseID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpdateSessionTitle sets the display title of a session.
func (s *LocalStore) UpdateSessionTitle(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE chat_sessions SET title = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		title, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update session title: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}

	logging.StoreDebug("Updated title for session %s: %q", id, title)
	return nil
}

// AppendMessage stores a chat message and touches the session timestamp.
func (s *LocalStore) AppendMessage(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" || msg.SessionID == "" {
		return fmt.Errorf("message id and session id are required")
	}

	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO chat_messages (id, session_id, role, content, run_id) VALUES (?, ?, ?, ?, ?)",
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	_, err = s.db.Exec(
		"UPDATE chat_sessions SET updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		msg.SessionID,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Warn("Failed to touch session %s: %v", msg.SessionID, err)
	}

	logging.StoreDebug("Appended %s message %s to session %s (%d chars)",
		msg.Role, msg.ID, msg.SessionID, len(msg.Content))
	return nil
}

// ListMessages returns a session's messages in chronological order.
func (s *LocalStore) ListMessages(sessionID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT id, session_id, role, content, run_id, created_at FROM chat_messages WHERE session_id = ? ORDER BY rowid ASC",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.RunID, &msg.CreatedAt); err != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping malformed message row: %v", err)
			continue
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// MessageCount returns the number of messages in a session.
func (s *LocalStore) MessageCount(sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM chat_messages WHERE session_id = ?",
		sessionID,
	).Scan(&count)
	return count, err
}

// DeleteSession removes a session, its messages, and all source rows the
// messages carried. Everything happens in one transaction so a failed delete
// leaves the session intact.
func (s *LocalStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryStore, "DeleteSession")
	defer timer.Stop()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM message_sources WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete session sources: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM chat_messages WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete session messages: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM chat_sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session delete: %w", err)
	}

	logging.Store("Deleted session %s with its messages and sources", id)
	return nil
}
