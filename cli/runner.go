// Chat drivers for CLI commands.
//
// Each driver reads user lines until "quit", "exit" or end of input and
// answers them with a different technique: a single prompt, an in-memory
// chat, a persisted chat, a manual tool loop, an agent, a supervisor, a
// routed pair of supervisors and a routed pipeline with context memory.
//
// Information Hiding:
// - Command dispatch logic hidden
// - Agent/orchestration setup hidden
// - Output formatting hidden

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/richinex/colloquy/agent"
	"github.com/richinex/colloquy/config"
	"github.com/richinex/colloquy/history"
	"github.com/richinex/colloquy/llm"
	"github.com/richinex/colloquy/memory"
	"github.com/richinex/colloquy/model"
	"github.com/richinex/colloquy/orchestration"
	"github.com/richinex/colloquy/storage"
	"github.com/richinex/colloquy/tools"
)

// UserPrompt is shown before every line of user input.
const UserPrompt = `User ("quit" to exit): `

// elaboratePrompt is the system prompt of the in-memory chat.
const elaboratePrompt = "You are a helpful assistant, but you always use extremely elaborate language in your responses."

// Deps holds what the drivers need. Tests fill it with fakes.
type Deps struct {
	Client   *llm.Client
	Store    storage.ConversationStore
	Settings config.Settings
	Tools    *tools.Registry
	In       io.Reader
	Out      io.Writer
	Palette  Palette
	Stream   bool
	ChatID   string
	Logger   *slog.Logger
}

// Runner runs the chat drivers.
type Runner struct {
	client   *llm.Client
	store    storage.ConversationStore
	settings config.Settings
	registry *tools.Registry
	console  *Console
	input    *bufio.Scanner
	stream   bool
	chatID   string
	logger   *slog.Logger
}

// NewRunner creates a runner from deps. A nil tool registry defaults to the
// calculator tools plus web_search with the configured SearchApi key.
func NewRunner(deps Deps) (*Runner, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("runner needs an LLM client")
	}
	registry := deps.Tools
	if registry == nil {
		r, err := tools.WithDefaults(deps.Settings.Tools.SearchAPIKey)
		if err != nil {
			return nil, err
		}
		registry = r
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	scanner := bufio.NewScanner(deps.In)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &Runner{
		client:   deps.Client,
		store:    deps.Store,
		settings: deps.Settings,
		registry: registry,
		console:  NewConsole(deps.Out, deps.Palette),
		input:    scanner,
		stream:   deps.Stream,
		chatID:   deps.ChatID,
		logger:   logger,
	}, nil
}

// readLine prompts and returns the next non-empty line. ok is false on
// quit, exit or end of input.
func (r *Runner) readLine(prompt string) (line string, ok bool, err error) {
	for {
		r.console.Printf(LabelUser, "%s", prompt)
		if !r.input.Scan() {
			r.console.Chunk("\n")
			return "", false, r.input.Err()
		}
		line = strings.TrimSpace(r.input.Text())
		r.console.Chunk("\n")
		switch line {
		case "":
			continue
		case "quit", "exit":
			return "", false, nil
		default:
			return line, true, nil
		}
	}
}

// fatal reports whether err must end the session: storage and credential
// failures and cancellation. Anything else is shown and the chat goes on.
func fatal(err error) bool {
	return errors.Is(err, storage.ErrStorageUnavailable) ||
		errors.Is(err, llm.ErrMissingCredential) ||
		errors.Is(err, llm.ErrUnknownRole) ||
		errors.Is(err, context.Canceled)
}

// report shows a recoverable error or returns a fatal one.
func (r *Runner) report(err error) error {
	if fatal(err) {
		return err
	}
	r.logger.Error("turn failed", "error", err)
	r.console.Println(LabelError, "Error: "+err.Error())
	return nil
}

// reply asks the model for the next message, streaming when enabled.
func (r *Runner) reply(ctx context.Context, messages []llm.ChatMessage, defs []llm.ToolDefinition) (llm.ChatMessage, error) {
	if !r.stream {
		resp, err := r.client.Reply(ctx, messages, defs, nil)
		if err != nil {
			return llm.ChatMessage{}, err
		}
		if resp.Content != "" {
			r.console.Println(LabelAssistant, resp.Content)
		}
		return resp.Message(), nil
	}

	r.console.Begin(LabelAssistant)
	resp, err := r.client.Reply(ctx, messages, defs, r.console.Chunk)
	r.console.End()
	if err != nil {
		return llm.ChatMessage{}, err
	}
	return resp.Message(), nil
}

// openHistory opens the persisted conversation and prints its id and, when
// resumed, the earlier turns.
func (r *Runner) openHistory(ctx context.Context) (*history.History, error) {
	if r.store == nil {
		return nil, fmt.Errorf("this command needs a conversation store")
	}
	h, err := history.Open(ctx, r.store, r.chatID, history.DefaultSystemPrompt, history.WithLogger(r.logger))
	if err != nil {
		return nil, err
	}
	r.console.ChatID(h.ID())
	if h.Resumed() {
		if err := r.console.Replay(h.Messages()); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Prompt sends a single prompt and prints the reply.
func (r *Runner) Prompt(ctx context.Context) error {
	line, ok, err := r.readLine("Prompt: ")
	if err != nil || !ok {
		return err
	}
	if _, err := r.reply(ctx, []llm.ChatMessage{llm.UserMessage(line)}, nil); err != nil {
		return fmt.Errorf("failed to get reply: %w", err)
	}
	return nil
}

// Chat runs an in-memory chat that is forgotten on exit.
func (r *Runner) Chat(ctx context.Context) error {
	messages := []llm.ChatMessage{llm.SystemMessage(elaboratePrompt)}
	for {
		line, ok, err := r.readLine(UserPrompt)
		if err != nil || !ok {
			return err
		}
		messages = append(messages, llm.UserMessage(line))

		msg, err := r.reply(ctx, messages, nil)
		if err != nil {
			// Drop the unanswered question so the transcript stays alternating.
			messages = messages[:len(messages)-1]
			if err := r.report(err); err != nil {
				return err
			}
			continue
		}
		messages = append(messages, msg)
	}
}

// History runs a persisted chat resumed by chat id.
func (r *Runner) History(ctx context.Context) error {
	h, err := r.openHistory(ctx)
	if err != nil {
		return err
	}
	for {
		line, ok, err := r.readLine(UserPrompt)
		if err != nil || !ok {
			return err
		}
		if err := h.Add(ctx, llm.UserMessage(line)); err != nil {
			return err
		}

		// Unlike the in-memory chat, a user turn that got no reply stays
		// persisted and is resent with the next request.
		msg, err := r.reply(ctx, h.Messages(), nil)
		if err != nil {
			if err := r.report(err); err != nil {
				return err
			}
			continue
		}
		if err := h.Add(ctx, msg); err != nil {
			return err
		}
	}
}

// Tools runs a persisted chat with web_search bound, executing tool calls
// in a loop bounded by the configured number of rounds.
func (r *Runner) Tools(ctx context.Context) error {
	search, err := r.registry.Subset("web_search")
	if err != nil {
		return err
	}
	defs := search.Definitions()
	executor := tools.NewDefaultExecutor()

	h, err := r.openHistory(ctx)
	if err != nil {
		return err
	}
	for {
		line, ok, err := r.readLine(UserPrompt)
		if err != nil || !ok {
			return err
		}
		if err := h.Add(ctx, llm.UserMessage(line)); err != nil {
			return err
		}
		if err := r.toolLoop(ctx, h, search, defs, executor); err != nil {
			if err := r.report(err); err != nil {
				return err
			}
		}
	}
}

func (r *Runner) toolLoop(ctx context.Context, h *history.History, registry *tools.Registry, defs []llm.ToolDefinition, executor *tools.Executor) error {
	maxRounds := r.settings.Agent.MaxToolRounds
	for round := 0; ; round++ {
		msg, err := r.reply(ctx, h.Messages(), defs)
		if err != nil {
			return err
		}
		if err := h.Add(ctx, msg); err != nil {
			return err
		}
		if !msg.HasToolCalls() {
			return nil
		}
		if round >= maxRounds {
			if err := h.AddAll(ctx, agent.Unanswered(msg)); err != nil {
				return err
			}
			return fmt.Errorf("%w (%d)", agent.ErrMaxRounds, maxRounds)
		}

		for i, call := range msg.ToolCalls {
			r.console.Println(LabelTool, describeToolCall(call))

			content := fmt.Sprintf("Error: tool '%s' not found", call.Name)
			if tool, ok := registry.Get(call.Name); ok {
				result, err := executor.Execute(ctx, tool, call.Arguments)
				if err != nil {
					if addErr := h.AddAll(ctx, agent.Close(msg.ToolCalls[i:], agent.AbortedNotice)); addErr != nil {
						return addErr
					}
					return err
				}
				content = result.Content()
			}
			if err := h.Add(ctx, llm.ToolMessage(call.ID, call.Name, content)); err != nil {
				return err
			}
		}
	}
}

// describeToolCall renders a tool call for the console.
func describeToolCall(call llm.ToolCall) string {
	if call.Name == "web_search" {
		if q := gjson.GetBytes(call.Arguments, "search_input").String(); q != "" {
			return "Tool call - Search: " + q
		}
	}
	return "Tool call: " + call.Name
}

func (r *Runner) teamOptions() teamOptions {
	return teamOptions{
		maxRounds: r.settings.Agent.MaxToolRounds,
		logger:    r.logger,
		observer: func(agentName string, call llm.ToolCall) {
			r.console.Println(LabelTool, describeToolCall(call))
		},
	}
}

// runAgent answers the transcript with a, records the produced messages
// and prints them when not streamed.
func (r *Runner) runAgent(ctx context.Context, h *history.History, a *agent.Agent) error {
	var (
		result agent.Result
		err    error
	)
	if r.stream {
		r.console.Begin(LabelAssistant)
		result, err = a.Stream(ctx, h.Messages(), r.console.Chunk)
		r.console.End()
	} else {
		result, err = a.Run(ctx, h.Messages())
	}
	r.logRun(a.Name(), result)

	if addErr := h.AddAll(ctx, result.Messages); addErr != nil {
		return addErr
	}
	if !r.stream {
		for _, m := range result.Messages {
			if m.Role == llm.RoleAssistant && m.Content != "" {
				r.console.Println(LabelAssistant, m.Content)
			}
		}
	}
	return err
}

// logRun records the tool activity of a run at debug level.
func (r *Runner) logRun(name string, result agent.Result) {
	stats := model.Summarize(result.ToolCalls)
	r.logger.Debug("agent run",
		"agent", name,
		"rounds", result.Rounds,
		"tool_calls", stats.Calls,
		"tool_failures", stats.Failures,
		"tool_ms", stats.TotalMs,
		"by_tool", stats.ByTool,
		"total_tokens", result.Usage.TotalTokens,
	)
}

// Agent runs a persisted chat through a tool-calling agent with web_search.
func (r *Runner) Agent(ctx context.Context) error {
	search, err := r.registry.Subset("web_search")
	if err != nil {
		return err
	}
	opts := r.teamOptions()
	a, err := opts.build(r.client, agent.NewBuilder("assistant").
		Description("Assistant with web search").
		Tools(search.Tools()))
	if err != nil {
		return err
	}
	a.WithToolObserver(func(_ string, call llm.ToolCall) {
		r.console.Println(LabelTool, fmt.Sprintf("Using %s tool...", call.Name))
	})
	return r.converse(ctx, func(ctx context.Context, h *history.History) error {
		return r.runAgent(ctx, h, a)
	})
}

// Supervisor runs a persisted chat through a supervisor that delegates to
// the research, calculator and writer agents.
func (r *Runner) Supervisor(ctx context.Context) error {
	opts := r.teamOptions()
	t, err := newTeam(r.client, r.registry, opts)
	if err != nil {
		return err
	}
	s, err := newSupervisor(r.client, t, opts)
	if err != nil {
		return err
	}
	return r.converse(ctx, func(ctx context.Context, h *history.History) error {
		return r.runAgent(ctx, h, s)
	})
}

// converse is the persisted chat loop shared by the agent drivers.
func (r *Runner) converse(ctx context.Context, answer func(context.Context, *history.History) error) error {
	h, err := r.openHistory(ctx)
	if err != nil {
		return err
	}
	for {
		line, ok, err := r.readLine(UserPrompt)
		if err != nil || !ok {
			return err
		}
		if err := h.Add(ctx, llm.UserMessage(line)); err != nil {
			return err
		}
		if err := answer(ctx, h); err != nil {
			if err := r.report(err); err != nil {
				return err
			}
		}
	}
}

func (r *Runner) pipeline(withContext bool) (*orchestration.Pipeline, error) {
	opts := r.teamOptions()
	t, err := newTeam(r.client, r.registry, opts)
	if err != nil {
		return nil, err
	}
	systems, err := newSystems(r.client, t, opts)
	if err != nil {
		return nil, err
	}
	router, err := orchestration.NewRouter(r.client, r.logger)
	if err != nil {
		return nil, err
	}
	var contextAgent *orchestration.ContextAgent
	if withContext {
		if contextAgent, err = orchestration.NewContextAgent(r.client); err != nil {
			return nil, err
		}
	}
	return orchestration.NewPipeline(router, systems, contextAgent, r.logger)
}

// shown reports whether a pipeline message is printed: supervisor replies,
// handoff results and the writer's text.
func shown(m llm.ChatMessage) bool {
	if m.Content == "" || m.Role == llm.RoleSystem || m.Role == llm.RoleUser {
		return false
	}
	return strings.Contains(m.Name, "_supervisor") ||
		orchestration.IsHandoff(m.Name) ||
		m.Name == WriterAgentName
}

// respond runs one pipeline turn over messages and records the result.
func (r *Runner) respond(ctx context.Context, h *history.History, p *orchestration.Pipeline, messages []llm.ChatMessage, previous memory.Context) (orchestration.TurnResult, error) {
	var onChunk llm.ChunkFunc
	if r.stream {
		r.console.Begin(LabelAssistant)
		onChunk = r.console.Chunk
	}

	turn, err := p.Respond(ctx, messages, previous, onChunk)
	if r.stream {
		r.console.End()
	}
	if turn.Route.Decision != "" {
		r.console.Println(LabelRoute, fmt.Sprintf("Using %s system.", turn.Route.Decision))
	}

	if addErr := h.AddAll(ctx, turn.Messages); addErr != nil {
		return turn, addErr
	}
	if !r.stream {
		for _, m := range turn.Messages {
			if shown(m) {
				r.console.Println(LabelAssistant, m.Content)
			}
		}
	}
	return turn, err
}

// Route runs a persisted chat where a router picks the research or math
// supervisor for each message.
func (r *Runner) Route(ctx context.Context) error {
	p, err := r.pipeline(false)
	if err != nil {
		return err
	}
	return r.converse(ctx, func(ctx context.Context, h *history.History) error {
		_, err := r.respond(ctx, h, p, h.Messages(), memory.Context{})
		return err
	})
}

// Memory is Route over only the last few messages, with a context agent
// that keeps a summary of the conversation and what is known about the
// user. The context is saved after every turn.
func (r *Runner) Memory(ctx context.Context) error {
	p, err := r.pipeline(true)
	if err != nil {
		return err
	}
	window := r.settings.Agent.WindowSize
	return r.converse(ctx, func(ctx context.Context, h *history.History) error {
		previous, err := memory.Decode(h.Context())
		if err != nil {
			r.logger.Warn("stored context unreadable, starting fresh", "conversation_id", h.ID(), "error", err)
			previous = memory.Context{}
		}

		turn, err := r.respond(ctx, h, p, h.Window(window), previous)
		if err != nil {
			return err
		}
		if !turn.ContextUpdated {
			return nil
		}

		blob, err := turn.Context.Encode()
		if err != nil {
			return err
		}
		h.SetContext(blob)
		return h.SaveContext(ctx)
	})
}

// ListSessions writes stored conversation ids to w, newest first.
func ListSessions(ctx context.Context, w io.Writer, palette Palette, store storage.ConversationStore) error {
	ids, err := store.ListConversations(ctx)
	if err != nil {
		return err
	}
	console := NewConsole(w, palette)
	if len(ids) == 0 {
		console.Println(LabelPlain, "No conversations stored.")
		return nil
	}
	for _, id := range ids {
		console.Printf(LabelChatID, "%s\n", id)
	}
	return nil
}

// ListTools writes the registered tools to w.
func ListTools(w io.Writer, registry *tools.Registry, verbose bool) {
	fmt.Fprintln(w, "Available tools:")
	fmt.Fprintln(w)

	for _, meta := range registry.List() {
		fmt.Fprintf(w, "  %s\n", meta.Name)
		fmt.Fprintf(w, "    %s\n", meta.Description)

		if verbose && len(meta.Parameters) > 0 {
			fmt.Fprintln(w, "    Parameters:")
			for _, param := range meta.Parameters {
				req := ""
				if param.Required {
					req = "*"
				}
				fmt.Fprintf(w, "      %s%s: %s - %s\n", param.Name, req, param.ParamType, param.Description)
			}
		}
		fmt.Fprintln(w)
	}
}
