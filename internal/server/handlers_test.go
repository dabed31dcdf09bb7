package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"studybuddy/internal/chat"
	"studybuddy/internal/config"
	"studybuddy/internal/ragcontext"
	"studybuddy/internal/retrieval"
	"studybuddy/internal/store"
)

// scriptedRunner replays a fixed event sequence.
type scriptedRunner struct {
	events []chat.Event
	title  string
}

func (r *scriptedRunner) Run(ctx context.Context, history []store.Message, question string, filters retrieval.Filters) <-chan chat.Event {
	ch := make(chan chat.Event, len(r.events))
	for _, ev := range r.events {
		ch <- ev
	}
	close(ch)
	return ch
}

func (r *scriptedRunner) GenerateTitle(ctx context.Context, question, answer string) (string, error) {
	if r.title == "" {
		return "", errors.New("no title configured")
	}
	return r.title, nil
}

func newTestServer(t *testing.T, runner Runner) (*Server, *store.LocalStore) {
	t.Helper()

	st, err := store.NewLocalStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	return New(cfg, st, runner, nil), st
}

func postStream(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func happyEvents() []chat.Event {
	return []chat.Event{
		{Kind: chat.EventRunStarted, RunID: "run-1"},
		{Kind: chat.EventContent, Content: "Hello"},
		{Kind: chat.EventContent, Content: " world"},
		{Kind: chat.EventContentCompleted},
		{Kind: chat.EventRunCompleted, RunID: "run-1"},
	}
}

// disconnectingRunner simulates a client that walks away mid-run: it buffers
// partial content, cancels the request context, and never completes the run.
type disconnectingRunner struct {
	cancel context.CancelFunc
}

func (r *disconnectingRunner) Run(ctx context.Context, history []store.Message, question string, filters retrieval.Filters) <-chan chat.Event {
	ch := make(chan chat.Event, 2)
	ch <- chat.Event{Kind: chat.EventRunStarted, RunID: "run-1"}
	ch <- chat.Event{Kind: chat.EventContent, Content: "partial"}
	r.cancel()
	return ch
}

func (r *disconnectingRunner) GenerateTitle(ctx context.Context, question, answer string) (string, error) {
	return "", errors.New("unreachable")
}

func TestChatStreamDisconnectSkipsPersistence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, st := newTestServer(t, &disconnectingRunner{cancel: cancel})

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{"session_id":"sess-1","message":"hi"}`))
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if strings.HasSuffix(w.Body.String(), "data: [DONE]\n\n") {
		t.Fatal("interrupted stream must not carry the done terminator")
	}

	msgs, err := st.ListMessages("sess-1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != "user" {
		t.Fatalf("messages persisted after disconnect = %d, want only the user row", len(msgs))
	}
}

func TestChatStreamHappyPath(t *testing.T) {
	s, _ := newTestServer(t, &scriptedRunner{events: happyEvents(), title: "Greetings"})

	w := postStream(t, s, `{"session_id":"sess-1","message":"hi"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := w.Header().Get("x-studybuddy-stream"); got != "v1" {
		t.Errorf("protocol header = %q, want v1", got)
	}

	body := w.Body.String()
	for _, want := range []string{
		`"type":"start"`,
		`"type":"text-start"`,
		`"delta":"Hello"`,
		`"type":"text-end"`,
		`"type":"finish"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %s\nbody: %s", want, body)
		}
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("body must end with the done marker, got tail %q", body[max(0, len(body)-40):])
	}
}

func TestChatStreamPersistsTurn(t *testing.T) {
	s, st := newTestServer(t, &scriptedRunner{events: happyEvents(), title: "Greetings"})

	postStream(t, s, `{"session_id":"sess-1","message":"hi"}`)

	msgs, err := st.ListMessages("sess-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected user + assistant messages, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "hi" {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "Hello world" {
		t.Errorf("assistant message = %+v", msgs[1])
	}
	if msgs[1].RunID != "run-1" {
		t.Errorf("run_id = %q, want run-1", msgs[1].RunID)
	}

	sess, err := st.GetSession("sess-1")
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if sess.Title != "Greetings" {
		t.Errorf("title = %q, want the generated title", sess.Title)
	}
}

func TestChatStreamPersistsSources(t *testing.T) {
	events := []chat.Event{
		{Kind: chat.EventRunStarted, RunID: "run-1"},
		{Kind: chat.EventSources, References: []ragcontext.ReferenceGroup{{
			Query: "quicksort",
			References: []ragcontext.Reference{{
				Content:     "pivot selection strategies",
				ChunkNumber: 1,
				Metadata: map[string]interface{}{
					"document_id":  "doc-1",
					"slide_number": 3,
				},
			}},
		}}},
		{Kind: chat.EventContent, Content: "Answer"},
		{Kind: chat.EventContentCompleted},
		{Kind: chat.EventRunCompleted, RunID: "run-1"},
	}
	s, st := newTestServer(t, &scriptedRunner{events: events})

	w := postStream(t, s, `{"session_id":"sess-1","message":"quicksort?"}`)

	body := w.Body.String()
	if !strings.Contains(body, `"type":"source-document"`) {
		t.Errorf("body missing source-document frame: %s", body)
	}
	if !strings.Contains(body, `"type":"data-rag-source"`) {
		t.Errorf("body missing data-rag-source frame: %s", body)
	}

	msgs, err := st.ListMessages("sess-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	assistantID := msgs[1].ID

	sources, err := st.LoadSourcesForMessage(assistantID)
	if err != nil {
		t.Fatalf("load sources failed: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("expected 1 persisted source, got %d", len(sources))
	}
	if sources[0].SourceID != "slide-doc-1-3" {
		t.Errorf("source_id = %q, want slide-doc-1-3", sources[0].SourceID)
	}
}

func TestChatStreamErrorRun(t *testing.T) {
	events := []chat.Event{
		{Kind: chat.EventRunStarted, RunID: "run-1"},
		{Kind: chat.EventRunError, Err: "model unavailable"},
	}
	s, st := newTestServer(t, &scriptedRunner{events: events})

	w := postStream(t, s, `{"session_id":"sess-1","message":"hi"}`)

	body := w.Body.String()
	if !strings.Contains(body, `"errorText":"model unavailable"`) {
		t.Errorf("body missing error frame: %s", body)
	}
	if strings.Contains(body, `"type":"finish"`) {
		t.Errorf("failed run must not emit finish: %s", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("failed run still ends with the done marker")
	}

	// No assistant text means no assistant row.
	msgs, err := st.ListMessages("sess-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("expected only the user message, got %d", len(msgs))
	}
}

func TestChatStreamRejectsMissingMessage(t *testing.T) {
	s, _ := newTestServer(t, &scriptedRunner{})

	w := postStream(t, s, `{"session_id":"sess-1"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestListMessagesWithSources(t *testing.T) {
	s, _ := newTestServer(t, &scriptedRunner{events: []chat.Event{
		{Kind: chat.EventRunStarted, RunID: "run-1"},
		{Kind: chat.EventSources, References: []ragcontext.ReferenceGroup{{
			Query: "q",
			References: []ragcontext.Reference{{
				Content:     "chunk",
				ChunkNumber: 1,
				Metadata:    map[string]interface{}{"lecture_id": "lec-1", "start_seconds": 90.0},
			}},
		}}},
		{Kind: chat.EventContent, Content: "Answer"},
		{Kind: chat.EventRunCompleted, RunID: "run-1"},
	}})

	postStream(t, s, `{"session_id":"sess-1","message":"q"}`)

	req := httptest.NewRequest(http.MethodGet, "/api/chat/sessions/sess-1/messages", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		SessionID string `json:"session_id"`
		Messages  []struct {
			Role    string `json:"role"`
			Sources []struct {
				SourceID string `json:"source_id"`
			} `json:"sources"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(resp.Messages))
	}
	if len(resp.Messages[1].Sources) != 1 {
		t.Fatalf("assistant message should carry 1 source, got %d", len(resp.Messages[1].Sources))
	}
	if got := resp.Messages[1].Sources[0].SourceID; got != "lecture-lec-1-90" {
		t.Errorf("source_id = %q, want lecture-lec-1-90", got)
	}
}

func TestDeleteSessionEndpoint(t *testing.T) {
	s, st := newTestServer(t, &scriptedRunner{events: happyEvents()})

	postStream(t, s, `{"session_id":"sess-1","message":"hi"}`)

	req := httptest.NewRequest(http.MethodDelete, "/api/chat/sessions/sess-1", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", w.Code)
	}

	if _, err := st.GetSession("sess-1"); err == nil {
		t.Error("session should be gone")
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/chat/sessions/sess-1", nil)
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, &scriptedRunner{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}
