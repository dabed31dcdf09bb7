// Package chat drives one generation run: it owns the typed event stream a
// model run produces and the runner that feeds it from the Gemini API plus
// the course-material search tool.
package chat

import "studybuddy/internal/ragcontext"

// EventKind enumerates every upstream generation event. The stream adapter
// switches over this exhaustively; adding a kind here means teaching the
// adapter about it.
type EventKind int

const (
	EventRunStarted EventKind = iota
	EventContent
	EventContentCompleted
	EventRunCompleted
	EventRunError
	EventReasoningStarted
	EventReasoningStep
	EventReasoningCompleted
	EventToolCallStarted
	EventToolCallCompleted
	EventSources // custom event carrying retrieved references for the client
)

// String returns the event kind name for logs.
func (k EventKind) String() string {
	switch k {
	case EventRunStarted:
		return "run-started"
	case EventContent:
		return "content"
	case EventContentCompleted:
		return "content-completed"
	case EventRunCompleted:
		return "run-completed"
	case EventRunError:
		return "run-error"
	case EventReasoningStarted:
		return "reasoning-started"
	case EventReasoningStep:
		return "reasoning-step"
	case EventReasoningCompleted:
		return "reasoning-completed"
	case EventToolCallStarted:
		return "tool-call-started"
	case EventToolCallCompleted:
		return "tool-call-completed"
	case EventSources:
		return "sources"
	default:
		return "unknown"
	}
}

// ToolCall describes a tool invocation surfaced by the model.
type ToolCall struct {
	ID     string
	Name   string
	Args   map[string]interface{}
	Result interface{}
}

// Event is the tagged union carried on the run's event channel. Only the
// fields relevant to Kind are populated.
type Event struct {
	Kind EventKind

	RunID     string // run-completed
	Content   string // content, run-completed (trailing content)
	Reasoning string // content, reasoning-step

	// References carries retriever output attached to content or completion
	// events, in the grouped container shape.
	References []ragcontext.ReferenceGroup

	// Sources carries the flat reference list of a custom sources event.
	Sources []ragcontext.Reference

	Tool *ToolCall // tool-call-started, tool-call-completed

	Err string // run-error
}
