// Package stream translates a generation-event sequence into the ordered
// SSE wire protocol the web client consumes. One Adapter instance serves
// exactly one response lifecycle.
package stream

import (
	"encoding/json"
	"fmt"

	"studybuddy/internal/source"
)

// ProtocolVersionHeader is the response header marking the wire protocol
// version, alongside the standard SSE headers.
const (
	ProtocolVersionHeader = "x-studybuddy-stream"
	ProtocolVersion       = "v1"
)

// FrameType tags one discrete downstream protocol message.
type FrameType string

const (
	FrameStart               FrameType = "start"
	FrameTextStart           FrameType = "text-start"
	FrameTextDelta           FrameType = "text-delta"
	FrameTextEnd             FrameType = "text-end"
	FrameReasoningStart      FrameType = "reasoning-start"
	FrameReasoningDelta      FrameType = "reasoning-delta"
	FrameReasoningEnd        FrameType = "reasoning-end"
	FrameToolInputStart      FrameType = "tool-input-start"
	FrameToolInputAvailable  FrameType = "tool-input-available"
	FrameToolOutputAvailable FrameType = "tool-output-available"
	FrameSourceDocument      FrameType = "source-document"
	FrameRAGSource           FrameType = "data-rag-source"
	FrameFinish              FrameType = "finish"
	FrameError               FrameType = "error"

	// FrameDone is the terminal marker. It serializes to the literal
	// "data: [DONE]" line rather than JSON.
	FrameDone FrameType = "done"
)

// Frame is one wire message. Fields irrelevant to Type stay zero and are
// omitted from JSON.
type Frame struct {
	Type FrameType `json:"type"`

	MessageID string `json:"messageId,omitempty"` // start

	ID    string `json:"id,omitempty"`    // text-*/reasoning-* block id
	Delta string `json:"delta,omitempty"` // text-delta, reasoning-delta

	ToolCallID string      `json:"toolCallId,omitempty"` // tool-*
	ToolName   string      `json:"toolName,omitempty"`   // tool-input-*
	Input      interface{} `json:"input,omitempty"`      // tool-input-available
	Output     interface{} `json:"output,omitempty"`     // tool-output-available

	SourceID  string `json:"sourceId,omitempty"`  // source-document
	MediaType string `json:"mediaType,omitempty"` // source-document
	Title     string `json:"title,omitempty"`     // source-document

	Data *source.Source `json:"data,omitempty"` // data-rag-source

	ErrorText string `json:"errorText,omitempty"` // error
}

// SSE encodes the frame as one server-sent event.
func (f Frame) SSE() string {
	if f.Type == FrameDone {
		return DoneSSE
	}
	data, err := json.Marshal(f)
	if err != nil {
		// A frame that cannot marshal becomes an in-band error event;
		// the stream must never break mid-response.
		return fmt.Sprintf("data: {\"type\":\"error\",\"errorText\":%q}\n\n", err.Error())
	}
	return fmt.Sprintf("data: %s\n\n", data)
}

// DoneSSE is the literal stream terminator.
const DoneSSE = "data: [DONE]\n\n"

// Headers returns the required response headers for a frame stream.
func Headers() map[string]string {
	return map[string]string{
		"Content-Type":        "text/event-stream",
		"Cache-Control":       "no-cache",
		"Connection":          "keep-alive",
		ProtocolVersionHeader: ProtocolVersion,
	}
}
