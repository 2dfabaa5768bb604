// Tool-calling loop implementation.
//
// All agent execution goes through this module: the model is asked for a
// reply, requested tools are executed, their results are appended as tool
// messages and the model is asked again until it answers without tools.
//
// Information Hiding:
// - Loop internals hidden
// - LLM communication hidden
// - Tool execution coordination hidden
// - Structured output schema generation hidden

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/invopop/jsonschema"

	jsonutil "github.com/richinex/colloquy/internal/json"
	"github.com/richinex/colloquy/llm"
	"github.com/richinex/colloquy/tools"
)

// Agent executes tasks with native tool calling.
type Agent struct {
	config       Config
	llmClient    *llm.Client
	toolRegistry *tools.Registry
	toolExecutor *tools.Executor
	logger       *slog.Logger
	onToolCall   ToolObserver
}

// ToolObserver is told about each tool call before it runs.
type ToolObserver func(agentName string, call llm.ToolCall)

// New creates a new agent with the given configuration and client.
// Duplicate tool names are an error.
func New(config Config, client *llm.Client) (*Agent, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.MaxRounds == 0 {
		config.MaxRounds = DefaultMaxRounds
	}

	registry, err := tools.NewRegistryWith(config.Tools...)
	if err != nil {
		return nil, fmt.Errorf("failed to build agent %s: %w", config.Name, err)
	}

	return &Agent{
		config:       config,
		llmClient:    client,
		toolRegistry: registry,
		toolExecutor: tools.NewExecutor(config.ToolConfig),
		logger:       slog.Default(),
	}, nil
}

// WithLogger sets the logger used for tool call tracing.
func (a *Agent) WithLogger(logger *slog.Logger) *Agent {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// WithToolObserver registers fn to be called before each tool call.
func (a *Agent) WithToolObserver(fn ToolObserver) *Agent {
	a.onToolCall = fn
	return a
}

// Name returns the agent's name.
func (a *Agent) Name() string {
	return a.config.Name
}

// Description returns the agent's description.
func (a *Agent) Description() string {
	return a.config.Description
}

// Tools returns the agent's tool registry.
func (a *Agent) Tools() *tools.Registry {
	return a.toolRegistry
}

// Run answers the conversation in messages and returns the messages it
// produced. The system prompt is prepended for the request only.
func (a *Agent) Run(ctx context.Context, messages []llm.ChatMessage) (Result, error) {
	return a.run(ctx, messages, nil)
}

// Stream is Run with assistant text delivered to onChunk as it arrives.
func (a *Agent) Stream(ctx context.Context, messages []llm.ChatMessage, onChunk llm.ChunkFunc) (Result, error) {
	return a.run(ctx, messages, onChunk)
}

func (a *Agent) run(ctx context.Context, messages []llm.ChatMessage, onChunk llm.ChunkFunc) (Result, error) {
	var result Result
	conversation := a.prompt(messages)
	definitions := a.toolRegistry.Definitions()

	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("agent %s cancelled: %w", a.config.Name, err)
		}

		response, err := a.llmClient.Reply(ctx, conversation, definitions, onChunk)
		if err != nil {
			return result, fmt.Errorf("agent %s: LLM request failed: %w", a.config.Name, err)
		}
		result.Rounds++
		result.Usage.Add(response.Usage)

		reply := response.Message()
		reply.Name = a.config.Name
		conversation = append(conversation, reply)
		result.Messages = append(result.Messages, reply)

		if !reply.HasToolCalls() {
			return result, nil
		}
		if round >= a.config.MaxRounds {
			result.Messages = append(result.Messages, Unanswered(reply)...)
			return result, fmt.Errorf("agent %s: %w (%d)", a.config.Name, ErrMaxRounds, a.config.MaxRounds)
		}

		for i, call := range reply.ToolCalls {
			if a.onToolCall != nil {
				a.onToolCall(a.config.Name, call)
			}
			toolMsg, metrics, err := a.executeTool(ctx, call)
			if err != nil {
				result.Messages = append(result.Messages, Close(reply.ToolCalls[i:], AbortedNotice)...)
				return result, err
			}
			result.ToolCalls = append(result.ToolCalls, metrics)
			conversation = append(conversation, toolMsg)
			result.Messages = append(result.Messages, toolMsg)
		}
	}
}

// Notices answering tool calls that were never executed.
const (
	RoundLimitNotice = "Error: tool round limit reached, call not executed"
	AbortedNotice    = "Error: run aborted, call not executed"
)

// Unanswered returns tool messages closing every call in reply, so a
// transcript cut short by the round limit stays valid for the next request.
func Unanswered(reply llm.ChatMessage) []llm.ChatMessage {
	return Close(reply.ToolCalls, RoundLimitNotice)
}

// Close answers each of calls with notice.
func Close(calls []llm.ToolCall, notice string) []llm.ChatMessage {
	msgs := make([]llm.ChatMessage, 0, len(calls))
	for _, call := range calls {
		msgs = append(msgs, llm.ToolMessage(call.ID, call.Name, notice))
	}
	return msgs
}

// prompt prepends the system prompt to a copy of messages.
func (a *Agent) prompt(messages []llm.ChatMessage) []llm.ChatMessage {
	conversation := make([]llm.ChatMessage, 0, len(messages)+1)
	if a.config.SystemPrompt != "" {
		conversation = append(conversation, llm.SystemMessage(a.config.SystemPrompt))
	}
	return append(conversation, messages...)
}

// executeTool runs one requested call and returns the tool message that
// answers it. Unknown tools and tool failures become error text for the
// model; only cancellation aborts the run.
func (a *Agent) executeTool(ctx context.Context, call llm.ToolCall) (llm.ChatMessage, ToolCall, error) {
	startTime := time.Now()
	metrics := ToolCall{Name: call.Name, InputSize: len(call.Arguments)}

	tool, exists := a.toolRegistry.Get(call.Name)
	if !exists {
		a.logger.Warn("model requested unknown tool", "agent", a.config.Name, "tool", call.Name)
		content := fmt.Sprintf("Error: tool '%s' not found", call.Name)
		metrics.OutputSize = len(content)
		return llm.ToolMessage(call.ID, call.Name, content), metrics, nil
	}

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	result, err := a.toolExecutor.Execute(ctx, tool, args)
	if err != nil {
		return llm.ChatMessage{}, metrics, fmt.Errorf("agent %s: tool %q aborted: %w", a.config.Name, call.Name, err)
	}

	content := result.Content()
	metrics.OutputSize = len(content)
	metrics.DurationMs = uint64(time.Since(startTime).Milliseconds())
	metrics.Success = result.Success()

	a.logger.Debug("tool call",
		"agent", a.config.Name,
		"tool", call.Name,
		"success", metrics.Success,
		"duration_ms", metrics.DurationMs,
	)
	return llm.ToolMessage(call.ID, call.Name, content), metrics, nil
}

// RunStructured asks for a single reply shaped like out (a pointer to a
// struct) and decodes it into out. Tools are not offered.
func (a *Agent) RunStructured(ctx context.Context, messages []llm.ChatMessage, out any) (Result, error) {
	var result Result

	schema, err := GenerateSchema(out)
	if err != nil {
		return result, err
	}
	format := llm.NewJSONSchemaFormat(a.config.Name, schema)

	response, err := a.llmClient.ChatWithFormat(ctx, a.prompt(messages), format)
	if err != nil {
		return result, fmt.Errorf("agent %s: LLM request failed: %w", a.config.Name, err)
	}
	result.Rounds = 1
	result.Usage.Add(response.Usage)

	reply := response.Message()
	reply.Name = a.config.Name
	result.Messages = append(result.Messages, reply)

	if err := json.Unmarshal([]byte(reply.Content), out); err != nil {
		// Some providers wrap the object in prose or code fences.
		if err := jsonutil.Decode(reply.Content, out); err != nil {
			return result, fmt.Errorf("agent %s: %w: %w", a.config.Name, ErrUndecodable, err)
		}
	}
	return result, nil
}

// GenerateSchema derives a strict JSON schema from the Go type of v.
func GenerateSchema(v any) (json.RawMessage, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Anonymous:                 true,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}
