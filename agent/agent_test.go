package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/richinex/colloquy/llm"
	"github.com/richinex/colloquy/llm/llmtest"
	"github.com/richinex/colloquy/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestAgent(t *testing.T, provider llm.Provider, builder *Builder) *Agent {
	t.Helper()
	a, err := builder.Build(llm.NewClient(provider))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return a
}

func addCall(id string, a, b float64) llm.ToolCall {
	args, _ := json.Marshal(map[string]float64{"a": a, "b": b})
	return llm.ToolCall{ID: id, Name: "add", Arguments: args}
}

func TestRunPlainAnswer(t *testing.T) {
	provider := llmtest.New(llmtest.Text("Hello there"))
	a := newTestAgent(t, provider, NewBuilder("greeter").SystemPrompt("Be kind."))

	result, err := a.Run(context.Background(), []llm.ChatMessage{llm.UserMessage("hi")})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(result.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(result.Messages))
	}
	if got := result.Messages[0]; got.Role != llm.RoleAssistant || got.Name != "greeter" || got.Content != "Hello there" {
		t.Errorf("unexpected message: %+v", got)
	}

	calls := provider.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 provider call, got %d", len(calls))
	}
	if calls[0].Messages[0].Role != llm.RoleSystem || calls[0].Messages[0].Content != "Be kind." {
		t.Errorf("system prompt not prepended: %+v", calls[0].Messages)
	}
	if len(calls[0].Tools) != 0 {
		t.Errorf("agent without tools sent %d definitions", len(calls[0].Tools))
	}
}

func TestRunToolLoop(t *testing.T) {
	provider := llmtest.New(
		llmtest.ToolCalls(addCall("call_1", 2, 3)),
		llmtest.Text("The sum is 5."),
	)
	a := newTestAgent(t, provider, NewBuilder("calculator").Tools(tools.CalculatorTools()))

	result, err := a.Run(context.Background(), []llm.ChatMessage{llm.UserMessage("2+3?")})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(result.Messages) != 3 {
		t.Fatalf("expected assistant, tool, assistant; got %+v", result.Messages)
	}
	toolMsg := result.Messages[1]
	if toolMsg.Role != llm.RoleTool || toolMsg.ToolCallID != "call_1" || toolMsg.Content != "5" {
		t.Errorf("unexpected tool message: %+v", toolMsg)
	}
	if result.Text() != "The sum is 5." {
		t.Errorf("Text() = %q", result.Text())
	}
	if result.Rounds != 2 || len(result.ToolCalls) != 1 || !result.ToolCalls[0].Success {
		t.Errorf("unexpected metrics: rounds=%d calls=%+v", result.Rounds, result.ToolCalls)
	}

	calls := provider.Calls()
	if len(calls[0].Tools) != 3 {
		t.Errorf("expected 3 tool definitions, got %d", len(calls[0].Tools))
	}
	second := calls[1].Messages
	if last := second[len(second)-1]; last.Role != llm.RoleTool || last.Content != "5" {
		t.Errorf("tool result not sent back to model: %+v", last)
	}
}

func TestRunUnknownToolIsReportedToModel(t *testing.T) {
	provider := llmtest.New(
		llmtest.ToolCalls(llm.ToolCall{ID: "x", Name: "divide", Arguments: json.RawMessage(`{}`)}),
		llmtest.Text("I cannot divide."),
	)
	a := newTestAgent(t, provider, NewBuilder("calculator").Tools(tools.CalculatorTools()))

	result, err := a.Run(context.Background(), []llm.ChatMessage{llm.UserMessage("1/0")})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(result.Messages[1].Content, "tool 'divide' not found") {
		t.Errorf("unexpected tool message: %+v", result.Messages[1])
	}
	if result.ToolCalls[0].Success {
		t.Error("unknown tool call recorded as success")
	}
}

func TestRunToolFailureIsReportedToModel(t *testing.T) {
	provider := llmtest.New(
		llmtest.ToolCalls(llm.ToolCall{ID: "x", Name: "add", Arguments: json.RawMessage(`{"a":1}`)}),
		llmtest.Text("Missing an operand."),
	)
	a := newTestAgent(t, provider, NewBuilder("calculator").Tools(tools.CalculatorTools()))

	result, err := a.Run(context.Background(), []llm.ChatMessage{llm.UserMessage("1+?")})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := result.Messages[1].Content; !strings.HasPrefix(got, "Error: validation failed") {
		t.Errorf("tool message = %q", got)
	}
}

func TestRunMaxRounds(t *testing.T) {
	provider := llmtest.New(
		llmtest.ToolCalls(addCall("1", 1, 1)),
		llmtest.ToolCalls(addCall("2", 2, 2)),
	)
	a := newTestAgent(t, provider, NewBuilder("looper").Tools(tools.CalculatorTools()).MaxRounds(1))

	result, err := a.Run(context.Background(), []llm.ChatMessage{llm.UserMessage("loop")})
	if !errors.Is(err, ErrMaxRounds) {
		t.Fatalf("expected ErrMaxRounds, got %v", err)
	}
	if len(result.Messages) != 4 {
		t.Fatalf("expected partial messages to be returned, got %d", len(result.Messages))
	}
	last := result.Messages[3]
	if last.Role != llm.RoleTool || last.ToolCallID != "2" || last.Content != RoundLimitNotice {
		t.Errorf("unexecuted call not closed: %+v", last)
	}
}

func TestRunProviderError(t *testing.T) {
	boom := errors.New("rate limited")
	a := newTestAgent(t, llmtest.New(llmtest.Fail(boom)), NewBuilder("failing"))

	_, err := a.Run(context.Background(), []llm.ChatMessage{llm.UserMessage("hi")})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
}

func TestRunCancelled(t *testing.T) {
	a := newTestAgent(t, llmtest.New(llmtest.Text("never")), NewBuilder("cancelled"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Run(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// cancellingTool cancels the run that invoked it.
type cancellingTool struct {
	tools.BaseTool
	cancel context.CancelFunc
}

func (c cancellingTool) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{Name: "halt", Description: "Stops the run."}
}

func (c cancellingTool) Execute(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
	c.cancel()
	<-ctx.Done()
	return tools.ToolResult{}, ctx.Err()
}

func TestRunAbortedClosesPendingCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := llmtest.New(llmtest.ToolCalls(
		llm.ToolCall{ID: "1", Name: "halt", Arguments: json.RawMessage(`{}`)},
		addCall("2", 1, 1),
	))
	a := newTestAgent(t, provider, NewBuilder("halting").Tools([]tools.Tool{cancellingTool{cancel: cancel}}))

	result, err := a.Run(ctx, []llm.ChatMessage{llm.UserMessage("stop")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(result.Messages) != 3 {
		t.Fatalf("expected reply plus two closing messages, got %d", len(result.Messages))
	}
	for i, id := range []string{"1", "2"} {
		m := result.Messages[i+1]
		if m.Role != llm.RoleTool || m.ToolCallID != id || m.Content != AbortedNotice {
			t.Errorf("call %s not closed: %+v", id, m)
		}
	}
}

func TestStream(t *testing.T) {
	provider := llmtest.New(llmtest.Text("one two three"))
	a := newTestAgent(t, provider, NewBuilder("streamer"))

	var chunks []string
	result, err := a.Stream(context.Background(), []llm.ChatMessage{llm.UserMessage("count")}, func(s string) {
		chunks = append(chunks, s)
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if len(chunks) != 3 || strings.Join(chunks, "") != "one two three" {
		t.Errorf("chunks = %q", chunks)
	}
	if result.Text() != "one two three" {
		t.Errorf("Text() = %q", result.Text())
	}
	if !provider.Calls()[0].Stream {
		t.Error("expected a streaming request")
	}
}

type verdict struct {
	Decision string `json:"decision" jsonschema:"enum=RESEARCH,enum=MATH"`
	Reason   string `json:"reason" jsonschema_description:"Why the decision was made"`
}

func TestRunStructured(t *testing.T) {
	provider := llmtest.New(llmtest.Text(`{"decision":"MATH","reason":"numbers"}`))
	a := newTestAgent(t, provider, NewBuilder("router"))

	var out verdict
	if _, err := a.RunStructured(context.Background(), []llm.ChatMessage{llm.UserMessage("2*2")}, &out); err != nil {
		t.Fatalf("RunStructured failed: %v", err)
	}
	if out.Decision != "MATH" || out.Reason != "numbers" {
		t.Errorf("decoded %+v", out)
	}

	format := provider.Calls()[0].Format
	if format == nil || format.Type != llm.ResponseFormatJSONSchema || format.JSONSchema.Name != "router" {
		t.Fatalf("unexpected format: %+v", format)
	}
	var schema map[string]interface{}
	if err := json.Unmarshal(format.JSONSchema.Schema, &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	if _, ok := schema["$schema"]; ok {
		t.Error("schema should not carry $schema")
	}
	props, _ := schema["properties"].(map[string]interface{})
	if _, ok := props["decision"]; !ok {
		t.Errorf("schema missing decision property: %s", format.JSONSchema.Schema)
	}
	if schema["additionalProperties"] != false {
		t.Errorf("schema should forbid additional properties: %s", format.JSONSchema.Schema)
	}
}

func TestRunStructuredExtractsFromProse(t *testing.T) {
	provider := llmtest.New(llmtest.Text("Here you go:\n```json\n{\"decision\":\"RESEARCH\",\"reason\":\"news\"}\n```"))
	a := newTestAgent(t, provider, NewBuilder("router"))

	var out verdict
	if _, err := a.RunStructured(context.Background(), nil, &out); err != nil {
		t.Fatalf("RunStructured failed: %v", err)
	}
	if out.Decision != "RESEARCH" {
		t.Errorf("decoded %+v", out)
	}
}

func TestRunStructuredUndecodable(t *testing.T) {
	a := newTestAgent(t, llmtest.New(llmtest.Text("no json here")), NewBuilder("router"))

	var out verdict
	if _, err := a.RunStructured(context.Background(), nil, &out); !errors.Is(err, ErrUndecodable) {
		t.Fatalf("expected ErrUndecodable, got %v", err)
	}
}

func TestBuilderDefaults(t *testing.T) {
	cfg := NewBuilder("writer").MaxRounds(0).Config()
	if cfg.Description != "Agent: writer" {
		t.Errorf("Description = %q", cfg.Description)
	}
	if cfg.MaxRounds != DefaultMaxRounds {
		t.Errorf("MaxRounds = %d", cfg.MaxRounds)
	}
	if cfg.HasTools() {
		t.Error("expected no tools")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	client := llm.NewClient(llmtest.New())

	if _, err := New(Config{}, client); err == nil {
		t.Error("expected error for missing name")
	}
	dup := Config{Name: "dup", Tools: []tools.Tool{tools.NewAddTool(), tools.NewAddTool()}}
	if _, err := New(dup, client); err == nil {
		t.Error("expected error for duplicate tools")
	}
}
