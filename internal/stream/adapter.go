package stream

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"studybuddy/internal/chat"
	"studybuddy/internal/logging"
	"studybuddy/internal/source"
)

// Adapter converts one run's generation events into an ordered frame
// sequence, collecting the sources it emitted as a side effect.
//
// One Adapter serves exactly one response lifecycle: it is not reusable and
// not safe for concurrent use. All state is owned by the Run goroutine; the
// accessors below are only valid after the frame channel has closed.
type Adapter struct {
	messageID             string
	emitSourcesBeforeText bool

	textBlockID      string
	reasoningBlockID string
	textStarted      bool
	reasoningStarted bool
	sourcesEmitted   bool
	failed           bool

	// pendingPre holds pre-retrieved sources withheld because the
	// before-text policy is disabled. They are flushed on the first
	// sources-bearing event or at run completion, never dropped.
	pendingPre []source.Source

	collected []source.Source
	runID     string
}

// AdapterConfig configures a single-response adapter.
type AdapterConfig struct {
	// MessageID identifies the generated message. Empty generates a UUID.
	MessageID string

	// EmitSourcesBeforeText emits pre-retrieved sources ahead of the first
	// text delta when true (the default policy in NewAdapter).
	EmitSourcesBeforeText bool
}

// NewAdapter creates an adapter with the default sources-before-text policy.
func NewAdapter() *Adapter {
	return NewAdapterWithConfig(AdapterConfig{EmitSourcesBeforeText: true})
}

// NewAdapterWithConfig creates an adapter with explicit policy.
func NewAdapterWithConfig(cfg AdapterConfig) *Adapter {
	id := cfg.MessageID
	if id == "" {
		id = uuid.NewString()
	}
	return &Adapter{
		messageID:             id,
		emitSourcesBeforeText: cfg.EmitSourcesBeforeText,
	}
}

// MessageID returns the generated message id for this response.
func (a *Adapter) MessageID() string {
	return a.messageID
}

// CollectedSources returns every source emitted during the run, in append
// order. Only valid after the frame channel has closed.
func (a *Adapter) CollectedSources() []source.Source {
	return a.collected
}

// RunID returns the upstream run id captured from the completion event, or
// "" if the run never completed. Only valid after the frame channel closed.
func (a *Adapter) RunID() string {
	return a.runID
}

// Run drains the event channel and produces frames lazily, one at a time, so
// the transport can flush each immediately. The returned channel is closed
// after the terminal done frame on every path: success ends
// [..., finish, done], failure ends [..., error, done]. If ctx is cancelled
// (client disconnect) production stops without the terminal frames; partial
// state is discarded with the adapter.
func (a *Adapter) Run(ctx context.Context, events <-chan chat.Event, preSources []source.Source) <-chan Frame {
	frames := make(chan Frame)

	go func() {
		defer close(frames)

		emit := func(f Frame) bool {
			select {
			case frames <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		defer func() {
			if r := recover(); r != nil {
				logging.Get(logging.CategoryStream).Error("adapter panic: %v", r)
				// Failures surface in-band; done stays terminal.
				emit(Frame{Type: FrameError, ErrorText: fmt.Sprintf("stream failed: %v", r)})
				emit(Frame{Type: FrameDone})
			}
		}()

		a.transform(ctx, events, preSources, emit)
	}()

	return frames
}

// transform is the adapter main loop. emit returns false once the consumer
// is gone, which aborts the run.
func (a *Adapter) transform(ctx context.Context, events <-chan chat.Event, preSources []source.Source, emit func(Frame) bool) {
	if !emit(Frame{Type: FrameStart, MessageID: a.messageID}) {
		return
	}

	if len(preSources) > 0 {
		if a.emitSourcesBeforeText {
			if !a.emitAllSources(preSources, emit) {
				return
			}
		} else {
			a.pendingPre = preSources
		}
	}

	for {
		var ev chat.Event
		var ok bool
		select {
		case ev, ok = <-events:
		case <-ctx.Done():
			return
		}
		if !ok {
			break
		}
		if !a.handleEvent(ev, emit) {
			return
		}
	}

	if a.failed {
		// The error frame already went out; a failed run gets no block
		// closes and no finish, just the terminal marker.
		emit(Frame{Type: FrameDone})
		return
	}

	if !a.flushPending(emit) {
		return
	}
	if a.textStarted {
		if !emit(Frame{Type: FrameTextEnd, ID: a.textBlockID}) {
			return
		}
		a.textStarted = false
	}
	if a.reasoningStarted {
		if !emit(Frame{Type: FrameReasoningEnd, ID: a.reasoningBlockID}) {
			return
		}
		a.reasoningStarted = false
	}
	if !emit(Frame{Type: FrameFinish}) {
		return
	}
	emit(Frame{Type: FrameDone})
}

// handleEvent dispatches one upstream event. Returns false when the consumer
// stopped pulling frames.
func (a *Adapter) handleEvent(ev chat.Event, emit func(Frame) bool) bool {
	logging.StreamDebug("event %s (msg=%s)", ev.Kind, a.messageID)

	switch ev.Kind {
	case chat.EventRunStarted:
		// start frame already emitted.
		return true

	case chat.EventContent:
		if a.failed {
			return true
		}
		if len(ev.References) > 0 && !a.sourcesEmitted && a.emitSourcesBeforeText {
			if !a.emitAllSources(source.FromGroups(ev.References), emit) {
				return false
			}
		}
		if ev.Reasoning != "" {
			if !a.openReasoning(emit) {
				return false
			}
			if !emit(Frame{Type: FrameReasoningDelta, ID: a.reasoningBlockID, Delta: ev.Reasoning}) {
				return false
			}
		}
		if ev.Content != "" {
			if !a.openText(emit) {
				return false
			}
			if !emit(Frame{Type: FrameTextDelta, ID: a.textBlockID, Delta: ev.Content}) {
				return false
			}
		}
		return true

	case chat.EventContentCompleted:
		// Block completed upstream; the wire block closes at exhaustion.
		return true

	case chat.EventRunCompleted:
		if ev.RunID != "" {
			a.runID = ev.RunID
		}
		if len(ev.References) > 0 && !a.sourcesEmitted {
			if !a.emitAllSources(source.FromGroups(ev.References), emit) {
				return false
			}
		}
		if !a.flushPending(emit) {
			return false
		}
		// Trailing content with no text block ever opened still reaches
		// the client as a normal block.
		if ev.Content != "" && !a.textStarted && !a.failed {
			if !a.openText(emit) {
				return false
			}
			if !emit(Frame{Type: FrameTextDelta, ID: a.textBlockID, Delta: ev.Content}) {
				return false
			}
		}
		return true

	case chat.EventRunError:
		errText := ev.Err
		if errText == "" {
			errText = "An error occurred"
		}
		a.failed = true
		return emit(Frame{Type: FrameError, ErrorText: errText})

	case chat.EventReasoningStarted:
		if a.failed {
			return true
		}
		return a.openReasoning(emit)

	case chat.EventReasoningStep:
		if a.failed {
			return true
		}
		if !a.openReasoning(emit) {
			return false
		}
		if ev.Reasoning != "" {
			return emit(Frame{Type: FrameReasoningDelta, ID: a.reasoningBlockID, Delta: ev.Reasoning})
		}
		return true

	case chat.EventReasoningCompleted:
		if a.reasoningStarted {
			a.reasoningStarted = false
			return emit(Frame{Type: FrameReasoningEnd, ID: a.reasoningBlockID})
		}
		return true

	case chat.EventToolCallStarted:
		if ev.Tool == nil {
			return true
		}
		return emit(Frame{
			Type:       FrameToolInputStart,
			ToolCallID: toolCallID(ev.Tool),
			ToolName:   toolName(ev.Tool),
		})

	case chat.EventToolCallCompleted:
		if ev.Tool == nil {
			return true
		}
		callID := toolCallID(ev.Tool)
		args := ev.Tool.Args
		if args == nil {
			args = map[string]interface{}{}
		}
		if !emit(Frame{
			Type:       FrameToolInputAvailable,
			ToolCallID: callID,
			ToolName:   toolName(ev.Tool),
			Input:      args,
		}) {
			return false
		}
		return emit(Frame{
			Type:       FrameToolOutputAvailable,
			ToolCallID: callID,
			Output:     ev.Tool.Result,
		})

	case chat.EventSources:
		if a.sourcesEmitted {
			return true
		}
		// The runner wraps tool-retrieved sources in reference groups;
		// pre-classified flat sources arrive on Sources. Accept both.
		srcs := source.FromReferences(ev.Sources)
		srcs = append(srcs, source.FromGroups(ev.References)...)
		if len(srcs) == 0 {
			return true
		}
		return a.emitAllSources(srcs, emit)

	default:
		logging.Get(logging.CategoryStream).Warn("unhandled event kind %d", ev.Kind)
		return true
	}
}

// openText opens the text block if needed. Idempotent: at most one
// text-start per run.
func (a *Adapter) openText(emit func(Frame) bool) bool {
	if a.textStarted {
		return true
	}
	a.textBlockID = uuid.NewString()
	a.textStarted = true
	return emit(Frame{Type: FrameTextStart, ID: a.textBlockID})
}

// openReasoning opens the reasoning block if needed.
func (a *Adapter) openReasoning(emit func(Frame) bool) bool {
	if a.reasoningStarted {
		return true
	}
	a.reasoningBlockID = uuid.NewString()
	a.reasoningStarted = true
	return emit(Frame{Type: FrameReasoningStart, ID: a.reasoningBlockID})
}

// emitAllSources emits the source-document + data-rag-source frame pair for
// each source and records them for post-stream persistence. Marks the
// once-per-run sources_emitted transition.
func (a *Adapter) emitAllSources(sources []source.Source, emit func(Frame) bool) bool {
	if len(sources) == 0 {
		return true
	}
	a.collected = append(a.collected, sources...)
	for i := range sources {
		s := sources[i]
		if !emit(Frame{
			Type:      FrameSourceDocument,
			SourceID:  s.SourceID,
			MediaType: string(s.SourceType),
			Title:     s.DisplayTitle(),
		}) {
			return false
		}
		if !emit(Frame{Type: FrameRAGSource, Data: &s}) {
			return false
		}
	}
	a.sourcesEmitted = true
	return true
}

// flushPending emits pre-retrieved sources that were withheld by a disabled
// before-text policy, if nothing else emitted sources first.
func (a *Adapter) flushPending(emit func(Frame) bool) bool {
	if len(a.pendingPre) == 0 {
		return true
	}
	pending := a.pendingPre
	a.pendingPre = nil
	if a.sourcesEmitted {
		return true
	}
	return a.emitAllSources(pending, emit)
}

func toolCallID(t *chat.ToolCall) string {
	if t.ID != "" {
		return t.ID
	}
	return uuid.NewString()
}

func toolName(t *chat.ToolCall) string {
	if t.Name != "" {
		return t.Name
	}
	return "unknown_tool"
}
