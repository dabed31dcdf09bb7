package server

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"studybuddy/internal/logging"
	"studybuddy/internal/ragcontext"
	"studybuddy/internal/retrieval"
	"studybuddy/internal/source"
	"studybuddy/internal/store"
	"studybuddy/internal/stream"
)

// streamRequest is the body of POST /api/chat/stream.
type streamRequest struct {
	SessionID  string `json:"session_id"`
	Message    string `json:"message" binding:"required"`
	OwnerID    string `json:"owner_id"`
	CourseID   string `json:"course_id"`
	DocumentID string `json:"document_id"`
	LectureID  string `json:"lecture_id"`

	// RetrieveFirst searches the corpora before the model run starts, so the
	// client sees sources ahead of the first token.
	RetrieveFirst bool `json:"retrieve_first"`
}

// messageWithSources is one history entry in the replay response.
type messageWithSources struct {
	store.Message
	Sources []source.Source `json:"sources,omitempty"`
}

func (s *Server) handleChatStream(c *gin.Context) {
	var req streamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx := c.Request.Context()
	filters := retrieval.Filters{
		OwnerID:    req.OwnerID,
		CourseID:   req.CourseID,
		DocumentID: req.DocumentID,
		LectureID:  req.LectureID,
	}

	if err := s.store.EnsureSession(sessionID, req.OwnerID, req.CourseID); err != nil {
		logging.Get(logging.CategoryAPI).Error("Failed to ensure session %s: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prepare session"})
		return
	}

	history, err := s.store.ListMessages(sessionID)
	if err != nil {
		logging.Get(logging.CategoryAPI).Error("Failed to load history for %s: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}

	if err := s.store.AppendMessage(store.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      "user",
		Content:   req.Message,
	}); err != nil {
		logging.Get(logging.CategoryAPI).Error("Failed to persist user message: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist message"})
		return
	}

	question := req.Message
	var preSources []source.Source
	if req.RetrieveFirst && s.retriever != nil {
		preSources, question = s.preRetrieve(ctx, req.Message, filters)
	}

	for k, v := range stream.Headers() {
		c.Writer.Header().Set(k, v)
	}
	c.Header("X-Session-Id", sessionID)
	c.Status(http.StatusOK)

	logging.API("Streaming chat for session %s (%d history messages, %d pre-retrieved sources)",
		sessionID, len(history), len(preSources))

	events := s.runner.Run(ctx, history, question, filters)

	adapter := stream.NewAdapter()
	frames := adapter.Run(ctx, events, preSources)

	var answer strings.Builder
	exhausted := false
	for frame := range frames {
		if frame.Type == stream.FrameTextDelta {
			answer.WriteString(frame.Delta)
		}
		if frame.Type == stream.FrameDone {
			exhausted = true
		}
		if _, err := io.WriteString(c.Writer, frame.SSE()); err != nil {
			logging.Get(logging.CategoryAPI).Warn("Client write failed for session %s: %v", sessionID, err)
			return
		}
		c.Writer.Flush()
	}

	// A disconnect mid-run closes the frame channel without the terminal
	// done frame; whatever was collected by then is discarded.
	if !exhausted {
		logging.Get(logging.CategoryAPI).Warn("Stream for session %s ended before the done frame, skipping persistence", sessionID)
		return
	}

	// The stream is already on the wire; persistence failures from here on
	// are logged, never surfaced.
	s.persistAssistantTurn(sessionID, req.Message, answer.String(), adapter)
}

// preRetrieve searches before the run starts. Failures degrade to a plain
// run with no pre-retrieved sources.
func (s *Server) preRetrieve(ctx context.Context, message string, filters retrieval.Filters) ([]source.Source, string) {
	refs, err := s.retriever.Search(ctx, message, filters)
	if err != nil || len(refs) == 0 {
		if err != nil {
			logging.Get(logging.CategoryAPI).Warn("Pre-retrieval failed: %v", err)
		}
		return nil, message
	}

	formatted := ragcontext.Format(refs, ragcontext.ParseOrdering(s.cfg.Retrieval.Ordering))
	question := message + "\n\nRelevant course material:\n" + formatted.ModelContext
	return source.FromReferences(formatted.ClientSources), question
}

func (s *Server) persistAssistantTurn(sessionID, question, answer string, adapter *stream.Adapter) {
	if answer == "" {
		return
	}

	messageID := adapter.MessageID()
	if err := s.store.AppendMessage(store.Message{
		ID:        messageID,
		SessionID: sessionID,
		Role:      "assistant",
		Content:   answer,
		RunID:     adapter.RunID(),
	}); err != nil {
		logging.Get(logging.CategoryAPI).Error("Failed to persist assistant message %s: %v", messageID, err)
		return
	}

	if sources := adapter.CollectedSources(); len(sources) > 0 {
		if err := s.store.SaveMessageSources(messageID, sessionID, sources); err != nil {
			logging.Get(logging.CategoryAPI).Error("Failed to persist sources for message %s: %v", messageID, err)
		}
	}

	s.maybeGenerateTitle(sessionID, question, answer)
}

// maybeGenerateTitle runs the title follow-up after the first full exchange.
func (s *Server) maybeGenerateTitle(sessionID, question, answer string) {
	sess, err := s.store.GetSession(sessionID)
	if err != nil || sess.Title != "" {
		return
	}
	count, err := s.store.MessageCount(sessionID)
	if err != nil || count != 2 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	title, err := s.runner.GenerateTitle(ctx, question, answer)
	if err != nil {
		logging.Get(logging.CategoryAPI).Warn("Title generation failed for session %s: %v", sessionID, err)
		return
	}
	if err := s.store.UpdateSessionTitle(sessionID, title); err != nil {
		logging.Get(logging.CategoryAPI).Warn("Failed to save title for session %s: %v", sessionID, err)
	}
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.store.GetSession(c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleListMessages(c *gin.Context) {
	sessionID := c.Param("id")

	messages, err := s.store.ListMessages(sessionID)
	if err != nil {
		logging.Get(logging.CategoryAPI).Error("Failed to list messages for %s: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	ids := make([]string, len(messages))
	for i, msg := range messages {
		ids[i] = msg.ID
	}

	grouped, err := s.store.LoadSourcesForMessages(ids)
	if err != nil {
		logging.Get(logging.CategoryAPI).Error("Failed to load sources for %s: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load sources"})
		return
	}

	out := make([]messageWithSources, len(messages))
	for i, msg := range messages {
		out[i] = messageWithSources{Message: msg, Sources: grouped[msg.ID]}
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"messages":   out,
	})
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	sessionID := c.Param("id")

	if _, err := s.store.GetSession(sessionID); errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	if err := s.store.DeleteSession(sessionID); err != nil {
		logging.Get(logging.CategoryAPI).Error("Failed to delete session %s: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete session"})
		return
	}

	c.Status(http.StatusNoContent)
}
