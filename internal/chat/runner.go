package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"studybuddy/internal/logging"
	"studybuddy/internal/ragcontext"
	"studybuddy/internal/retrieval"
	"studybuddy/internal/store"
)

// searchToolName is the function the model calls to look up course material.
const searchToolName = "search_course_materials"

// maxToolRounds caps the generate/tool-call loop so a misbehaving model
// cannot spin forever.
const maxToolRounds = 4

const systemPrompt = `You are StudyBuddy, a study assistant answering questions about the student's own course materials.

When the question concerns lecture content, slides, or anything course specific, call ` + searchToolName + ` first and ground your answer in the returned excerpts. Cite excerpts by their [n] markers. If the materials don't cover the question, say so before answering from general knowledge.`

// RunnerConfig configures a chat runner.
type RunnerConfig struct {
	APIKey          string
	Model           string
	TitleModel      string
	MaxOutputTokens int32
	Thinking        bool
	Ordering        ragcontext.Ordering
}

// Runner drives one model conversation turn and reports progress as Events.
// It owns the retrieval tool loop: when the model calls the search tool,
// the runner searches the chunk corpora, surfaces the hits as an EventSources,
// and hands the formatted context back to the model.
type Runner struct {
	client    *genai.Client
	retriever *retrieval.Retriever
	cfg       RunnerConfig
}

// NewRunner creates a runner backed by the Gemini API.
func NewRunner(ctx context.Context, retriever *retrieval.Retriever, cfg RunnerConfig) (*Runner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("LLM API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-pro"
	}
	if cfg.TitleModel == "" {
		cfg.TitleModel = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Runner{client: client, retriever: retriever, cfg: cfg}, nil
}

// Run executes one conversation turn. History carries the prior messages of
// the session; question is the new user message. Events are delivered on the
// returned channel, which closes when the run ends. The final event is either
// EventRunCompleted or EventRunError.
func (r *Runner) Run(ctx context.Context, history []store.Message, question string, filters retrieval.Filters) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)

		runID := uuid.NewString()
		logging.Chat("Run %s started (%d history messages)", runID, len(history))
		events <- Event{Kind: EventRunStarted, RunID: runID}

		contents := buildContents(history, question)
		var allGroups []ragcontext.ReferenceGroup

		for round := 0; round < maxToolRounds; round++ {
			call, modelParts, err := r.streamOnce(ctx, contents, events)
			if err != nil {
				logging.Get(logging.CategoryChat).Error("Run %s failed: %v", runID, err)
				events <- Event{Kind: EventRunError, RunID: runID, Err: err.Error()}
				return
			}

			if call == nil {
				events <- Event{Kind: EventContentCompleted, RunID: runID}
				events <- Event{Kind: EventRunCompleted, RunID: runID, References: allGroups}
				logging.Chat("Run %s completed after %d tool rounds", runID, round)
				return
			}

			toolCall := &ToolCall{ID: call.ID, Name: call.Name, Args: call.Args}
			events <- Event{Kind: EventToolCallStarted, RunID: runID, Tool: toolCall}

			query, _ := call.Args["query"].(string)
			modelContext, groups, err := r.ExecuteSearch(ctx, query, filters)
			if err != nil {
				// A failed lookup degrades to an unassisted answer.
				logging.Get(logging.CategoryChat).Warn("Run %s: search tool failed: %v", runID, err)
				modelContext = "No relevant course materials were found."
			}

			if len(groups) > 0 {
				allGroups = append(allGroups, groups...)
				events <- Event{Kind: EventSources, RunID: runID, References: groups}
			}

			toolCall.Result = modelContext
			events <- Event{Kind: EventToolCallCompleted, RunID: runID, Tool: toolCall}

			// Feed the model its own turn plus the tool result, then loop.
			contents = append(contents, genai.NewContentFromParts(modelParts, genai.RoleModel))
			contents = append(contents, genai.NewContentFromParts(
				[]*genai.Part{genai.NewPartFromFunctionResponse(call.Name, map[string]any{"result": modelContext})},
				genai.RoleUser,
			))
		}

		err := fmt.Errorf("model exceeded %d tool rounds", maxToolRounds)
		logging.Get(logging.CategoryChat).Error("Run %s aborted: %v", runID, err)
		events <- Event{Kind: EventRunError, RunID: runID, Err: err.Error()}
	}()

	return events
}

// streamOnce streams a single model response, forwarding text and reasoning
// deltas as events. It returns the first function call encountered, if any,
// together with the model parts accumulated so far.
func (r *Runner) streamOnce(ctx context.Context, contents []*genai.Content, events chan<- Event) (*genai.FunctionCall, []*genai.Part, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Tools:             []*genai.Tool{searchTool()},
	}
	if r.cfg.MaxOutputTokens > 0 {
		config.MaxOutputTokens = r.cfg.MaxOutputTokens
	}
	if r.cfg.Thinking {
		config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}

	var parts []*genai.Part
	reasoningOpen := false

	for resp, err := range r.client.Models.GenerateContentStream(ctx, r.cfg.Model, contents, config) {
		if err != nil {
			return nil, nil, fmt.Errorf("generation failed: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}

		for _, part := range resp.Candidates[0].Content.Parts {
			parts = append(parts, part)

			if part.FunctionCall != nil {
				return part.FunctionCall, parts, nil
			}
			if part.Text == "" {
				continue
			}
			if part.Thought {
				if !reasoningOpen {
					reasoningOpen = true
					events <- Event{Kind: EventReasoningStarted}
				}
				events <- Event{Kind: EventReasoningStep, Reasoning: part.Text}
				continue
			}
			if reasoningOpen {
				reasoningOpen = false
				events <- Event{Kind: EventReasoningCompleted}
			}
			events <- Event{Kind: EventContent, Content: part.Text}
		}
	}

	if reasoningOpen {
		events <- Event{Kind: EventReasoningCompleted}
	}
	return nil, parts, nil
}

// ExecuteSearch runs the search tool: retrieve, format, and return both the
// model-facing context block and the grouped references for the client.
func (r *Runner) ExecuteSearch(ctx context.Context, query string, filters retrieval.Filters) (string, []ragcontext.ReferenceGroup, error) {
	if strings.TrimSpace(query) == "" {
		return "", nil, fmt.Errorf("search query is empty")
	}
	if r.retriever == nil {
		return "", nil, fmt.Errorf("no retriever configured")
	}

	refs, err := r.retriever.Search(ctx, query, filters)
	if err != nil {
		return "", nil, err
	}
	if len(refs) == 0 {
		return "No relevant course materials were found.", nil, nil
	}

	formatted := ragcontext.Format(refs, r.cfg.Ordering)
	groups := []ragcontext.ReferenceGroup{{Query: query, References: formatted.ClientSources}}
	return formatted.ModelContext, groups, nil
}

// GenerateTitle asks the faster title model for a short session title based
// on the first exchange.
func (r *Runner) GenerateTitle(ctx context.Context, question, answer string) (string, error) {
	prompt := fmt.Sprintf(
		"Write a title of at most six words for a study chat that starts with this exchange. Reply with the title only, no quotes.\n\nQuestion: %s\n\nAnswer: %s",
		question, answer,
	)

	resp, err := r.client.Models.GenerateContent(ctx, r.cfg.TitleModel,
		genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("title generation failed: %w", err)
	}

	title := strings.TrimSpace(strings.Trim(resp.Text(), `"`))
	if title == "" {
		return "", fmt.Errorf("title model returned empty text")
	}
	return title, nil
}

func searchTool() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{{
			Name:        searchToolName,
			Description: "Search the student's slides and lecture transcripts for material relevant to a question.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"query": {
						Type:        genai.TypeString,
						Description: "What to look for in the course materials.",
					},
				},
				Required: []string{"query"},
			},
		}},
	}
}

// buildContents turns stored history plus the new question into model input.
// Messages with unknown roles are skipped.
func buildContents(history []store.Message, question string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, msg := range history {
		switch msg.Role {
		case "user":
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case "assistant":
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		}
	}
	contents = append(contents, genai.NewContentFromText(question, genai.RoleUser))
	return contents
}
