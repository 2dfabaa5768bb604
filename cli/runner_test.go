package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/richinex/colloquy/config"
	"github.com/richinex/colloquy/llm"
	"github.com/richinex/colloquy/llm/llmtest"
	"github.com/richinex/colloquy/memory"
	"github.com/richinex/colloquy/orchestration"
	"github.com/richinex/colloquy/storage"
	"github.com/richinex/colloquy/tools"
)

// fakeSearch stands in for web_search and records its queries.
type fakeSearch struct {
	tools.BaseTool
	mu      sync.Mutex
	queries []string
}

func (f *fakeSearch) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name:        "web_search",
		Description: "Search the web",
		Parameters: []tools.ToolParameter{
			{Name: "search_input", ParamType: "string", Description: "Query", Required: true},
		},
	}
}

func (f *fakeSearch) Execute(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
	var in struct {
		SearchInput string `json:"search_input"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.FailureResult(err), nil
	}
	f.mu.Lock()
	f.queries = append(f.queries, in.SearchInput)
	f.mu.Unlock()
	return tools.SuccessResult("Sunny, 21C"), nil
}

// failingStore fails every AppendTurn.
type failingStore struct {
	storage.ConversationStore
}

func (s failingStore) AppendTurn(ctx context.Context, id string, turn storage.Turn) error {
	return fmt.Errorf("%w: disk full", storage.ErrStorageUnavailable)
}

type harness struct {
	provider *llmtest.Provider
	store    storage.ConversationStore
	search   *fakeSearch
	out      bytes.Buffer
	deps     Deps
}

func newHarness(t *testing.T, replies ...llmtest.Reply) *harness {
	t.Helper()
	h := &harness{
		provider: llmtest.New(replies...),
		store:    storage.NewInMemoryStore(),
		search:   &fakeSearch{},
	}
	registry, err := tools.NewRegistryWith(append(tools.CalculatorTools(), h.search)...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	h.deps = Deps{
		Client: llm.NewClient(h.provider),
		Store:  h.store,
		Settings: config.Settings{
			Agent: config.AgentConfig{MaxToolRounds: 3, WindowSize: 5},
		},
		Tools:   registry,
		Out:     &h.out,
		Palette: PlainPalette(),
	}
	return h
}

func (h *harness) run(t *testing.T, input string, driver func(*Runner, context.Context) error) error {
	t.Helper()
	deps := h.deps
	deps.In = strings.NewReader(input)
	r, err := NewRunner(deps)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	return driver(r, context.Background())
}

func (h *harness) onlyConversation(t *testing.T) storage.Conversation {
	t.Helper()
	ids, err := h.store.ListConversations(context.Background())
	if err != nil || len(ids) != 1 {
		t.Fatalf("expected one conversation, got %v (%v)", ids, err)
	}
	conv, err := h.store.Fetch(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	return conv
}

func handoff(id, agentName, query string) llm.ToolCall {
	args, _ := json.Marshal(map[string]string{"query": query})
	return llm.ToolCall{ID: id, Name: orchestration.HandoffName(agentName), Arguments: args}
}

func TestNewRunnerRequiresClient(t *testing.T) {
	if _, err := NewRunner(Deps{}); err == nil {
		t.Fatal("expected error without a client")
	}
}

func TestPrompt(t *testing.T) {
	h := newHarness(t, llmtest.Text("Hi there."))

	if err := h.run(t, "hello\n", (*Runner).Prompt); err != nil {
		t.Fatalf("Prompt failed: %v", err)
	}
	out := h.out.String()
	if !strings.HasPrefix(out, "Prompt: ") || !strings.Contains(out, "Hi there.") {
		t.Errorf("output = %q", out)
	}
	sent := h.provider.Calls()[0].Messages
	if len(sent) != 1 || sent[0].Content != "hello" {
		t.Errorf("sent %+v", sent)
	}
}

func TestChatKeepsTranscriptAndSkipsBlankLines(t *testing.T) {
	h := newHarness(t, llmtest.Text("Greetings."), llmtest.Text("Farewell."))

	if err := h.run(t, "\nhello\n  \nbye\nquit\nnever read\n", (*Runner).Chat); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	calls := h.provider.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(calls))
	}
	second := calls[1].Messages
	if len(second) != 4 || second[0].Content != elaboratePrompt || second[2].Content != "Greetings." {
		t.Errorf("second request = %+v", second)
	}
	if got := strings.Count(h.out.String(), UserPrompt); got != 5 {
		t.Errorf("expected 5 prompts, got %d", got)
	}
}

func TestChatRecoversFromProviderError(t *testing.T) {
	h := newHarness(t, llmtest.Fail(errors.New("rate limited")), llmtest.Text("Recovered."))

	if err := h.run(t, "first\nsecond\n", (*Runner).Chat); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	out := h.out.String()
	if !strings.Contains(out, "Error: ") || !strings.Contains(out, "rate limited") || !strings.Contains(out, "Recovered.") {
		t.Errorf("output = %q", out)
	}
	second := h.provider.Calls()[1].Messages
	if len(second) != 2 || second[1].Content != "second" {
		t.Errorf("failed turn should be dropped, got %+v", second)
	}
}

func TestChatStopsOnMissingCredential(t *testing.T) {
	h := newHarness(t, llmtest.Fail(fmt.Errorf("%w: OPENAI_API_KEY", llm.ErrMissingCredential)))

	err := h.run(t, "hello\n", (*Runner).Chat)
	if !errors.Is(err, llm.ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}

func TestChatStreams(t *testing.T) {
	h := newHarness(t, llmtest.Text("one two three"))
	h.deps.Stream = true

	if err := h.run(t, "go\n", (*Runner).Chat); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if !strings.Contains(h.out.String(), "one two three\n\n") {
		t.Errorf("output = %q", h.out.String())
	}
	if !h.provider.Calls()[0].Stream {
		t.Error("expected a streaming request")
	}
}

func TestHistoryPersistsAndResumes(t *testing.T) {
	h := newHarness(t, llmtest.Text("Hello, Ana."))

	if err := h.run(t, "I am Ana\nquit\n", (*Runner).History); err != nil {
		t.Fatalf("History failed: %v", err)
	}
	conv := h.onlyConversation(t)
	if n := len(conv.Turns); n != 3 {
		t.Fatalf("expected system, user and assistant turns, got %d", n)
	}
	if !strings.Contains(h.out.String(), "Chat ID: "+conv.ID) {
		t.Errorf("chat id not announced: %q", h.out.String())
	}

	h.out.Reset()
	h.deps.ChatID = conv.ID
	h.provider.Push(llmtest.Text("You are Ana."))
	if err := h.run(t, "Who am I?\n", (*Runner).History); err != nil {
		t.Fatalf("resumed History failed: %v", err)
	}

	out := h.out.String()
	if !strings.Contains(out, "I am Ana\n\nHello, Ana.") {
		t.Errorf("earlier turns not replayed: %q", out)
	}
	sent := h.provider.Calls()[1].Messages
	if len(sent) != 4 || sent[3].Content != "Who am I?" {
		t.Errorf("resumed request = %+v", sent)
	}
}

func TestHistoryKeepsUnansweredTurn(t *testing.T) {
	h := newHarness(t, llmtest.Fail(errors.New("rate limited")), llmtest.Text("Recovered."))

	if err := h.run(t, "first\nsecond\n", (*Runner).History); err != nil {
		t.Fatalf("History failed: %v", err)
	}
	second := h.provider.Calls()[1].Messages
	if len(second) != 3 || second[1].Content != "first" || second[2].Content != "second" {
		t.Errorf("persisted turn should be resent, got %+v", second)
	}
	if n := len(h.onlyConversation(t).Turns); n != 4 {
		t.Errorf("expected 4 stored turns, got %d", n)
	}
}

func TestHistoryStorageFailureIsFatal(t *testing.T) {
	h := newHarness(t, llmtest.Text("unused"))
	h.deps.Store = failingStore{storage.NewInMemoryStore()}

	err := h.run(t, "hello\n", (*Runner).History)
	if !errors.Is(err, storage.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestToolsLoop(t *testing.T) {
	h := newHarness(t,
		llmtest.ToolCalls(llm.ToolCall{ID: "s1", Name: "web_search", Arguments: json.RawMessage(`{"search_input":"weather Lisbon"}`)}),
		llmtest.Text("It is sunny."),
	)

	if err := h.run(t, "Weather in Lisbon?\n", (*Runner).Tools); err != nil {
		t.Fatalf("Tools failed: %v", err)
	}

	out := h.out.String()
	if !strings.Contains(out, "Tool call - Search: weather Lisbon") || !strings.Contains(out, "It is sunny.") {
		t.Errorf("output = %q", out)
	}
	calls := h.provider.Calls()
	if len(calls[0].Tools) != 1 || calls[0].Tools[0].Name != "web_search" {
		t.Errorf("tools offered = %+v", calls[0].Tools)
	}
	last := calls[1].Messages[len(calls[1].Messages)-1]
	if last.Role != llm.RoleTool || last.Content != "Sunny, 21C" {
		t.Errorf("tool result not sent back: %+v", last)
	}

	// Only the user question and the final answer are durable.
	conv := h.onlyConversation(t)
	if n := len(conv.Turns); n != 3 {
		t.Errorf("expected 3 stored turns, got %d", n)
	}
}

func TestToolsRoundLimitKeepsTranscriptValid(t *testing.T) {
	call := func(id string) llmtest.Reply {
		return llmtest.ToolCalls(llm.ToolCall{ID: id, Name: "web_search", Arguments: json.RawMessage(`{"search_input":"again"}`)})
	}
	h := newHarness(t, call("a"), call("b"), llmtest.Text("Done."))
	h.deps.Settings.Agent.MaxToolRounds = 1

	if err := h.run(t, "loop\nnext\n", (*Runner).Tools); err != nil {
		t.Fatalf("Tools failed: %v", err)
	}
	if !strings.Contains(h.out.String(), "max tool rounds") {
		t.Errorf("round limit not reported: %q", h.out.String())
	}

	third := h.provider.Calls()[2].Messages
	dangling := third[len(third)-2]
	if dangling.Role != llm.RoleTool || dangling.ToolCallID != "b" {
		t.Errorf("unexecuted call left open: %+v", third)
	}
}

func TestAgentDriver(t *testing.T) {
	h := newHarness(t,
		llmtest.ToolCalls(llm.ToolCall{ID: "s1", Name: "web_search", Arguments: json.RawMessage(`{"search_input":"news"}`)}),
		llmtest.Text("Here are the news."),
	)

	if err := h.run(t, "Any news?\n", (*Runner).Agent); err != nil {
		t.Fatalf("Agent failed: %v", err)
	}
	out := h.out.String()
	if !strings.Contains(out, "Using web_search tool...") || !strings.Contains(out, "Here are the news.") {
		t.Errorf("output = %q", out)
	}
	if len(h.search.queries) != 1 || h.search.queries[0] != "news" {
		t.Errorf("queries = %v", h.search.queries)
	}
}

func TestSupervisorDriver(t *testing.T) {
	h := newHarness(t,
		llmtest.ToolCalls(handoff("h1", WriterAgentName, "write a haiku")),
		llmtest.Text("Quiet pond."),
		llmtest.Text("Here is your haiku: Quiet pond."),
	)

	if err := h.run(t, "A haiku please\n", (*Runner).Supervisor); err != nil {
		t.Fatalf("Supervisor failed: %v", err)
	}
	out := h.out.String()
	if !strings.Contains(out, "Tool call: transfer_to_writer_agent") {
		t.Errorf("handoff not shown: %q", out)
	}
	if !strings.Contains(out, "Here is your haiku: Quiet pond.") {
		t.Errorf("answer not shown: %q", out)
	}

	writerInput := h.provider.Calls()[1].Messages
	if len(writerInput) != 2 || writerInput[0].Content != writerPrompt || writerInput[1].Content != "write a haiku" {
		t.Errorf("writer received %+v", writerInput)
	}
}

func mathTurn(answer string) []llmtest.Reply {
	return []llmtest.Reply{
		llmtest.Text(`{"decision":"MATH","reason":"arithmetic"}`),
		llmtest.ToolCalls(handoff("h1", CalculatorAgentName, "multiply 6 by 7")),
		llmtest.ToolCalls(llm.ToolCall{ID: "c1", Name: "multiply", Arguments: json.RawMessage(`{"a":6,"b":7}`)}),
		llmtest.Text("42"),
		llmtest.Text(answer),
	}
}

func TestRouteDriver(t *testing.T) {
	h := newHarness(t, mathTurn("6 times 7 is 42.")...)

	if err := h.run(t, "6*7?\n", (*Runner).Route); err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	out := h.out.String()
	for _, want := range []string{"Using MATH system.", "Tool call: transfer_to_calculator_agent", "42\n\n", "6 times 7 is 42."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
	if !strings.Contains(out, "Tool call: multiply") {
		t.Errorf("calculator tool call not shown: %q", out)
	}

	router := h.provider.Calls()[0]
	if router.Format == nil || len(router.Messages) != 2 || router.Messages[1].Content != "6*7?" {
		t.Errorf("router request = %+v", router)
	}
}

func TestMemoryDriverSavesContext(t *testing.T) {
	replies := append(mathTurn("It is 42."),
		llmtest.Text(`{"chat_summary":"User asked for 6*7.","user_data":"Likes math."}`))
	h := newHarness(t, replies...)

	if err := h.run(t, "6*7?\n", (*Runner).Memory); err != nil {
		t.Fatalf("Memory failed: %v", err)
	}

	conv := h.onlyConversation(t)
	saved, err := memory.Decode(conv.Context)
	if err != nil {
		t.Fatalf("stored context unreadable: %v", err)
	}
	if saved.ChatSummary != "User asked for 6*7." || saved.UserData != "Likes math." {
		t.Errorf("saved context = %+v", saved)
	}

	// The next turn hands the saved context to the supervisor.
	h.provider.Push(
		llmtest.Text(`{"decision":"RESEARCH","reason":"chat"}`),
		llmtest.Text("Bye."),
		llmtest.Text(`{"chat_summary":"Said bye.","user_data":"Likes math."}`),
	)
	h.deps.ChatID = conv.ID
	if err := h.run(t, "bye\n", (*Runner).Memory); err != nil {
		t.Fatalf("resumed Memory failed: %v", err)
	}
	supervisorInput := h.provider.Calls()[7].Messages
	var found bool
	for _, m := range supervisorInput {
		if m.Role == llm.RoleSystem && strings.Contains(m.Content, "Likes math.") {
			found = true
		}
	}
	if !found {
		t.Errorf("saved context not given to supervisor: %+v", supervisorInput)
	}
}

func TestListSessions(t *testing.T) {
	store := storage.NewInMemoryStore()
	var buf bytes.Buffer

	if err := ListSessions(context.Background(), &buf, PlainPalette(), store); err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if !strings.Contains(buf.String(), "No conversations stored.") {
		t.Errorf("output = %q", buf.String())
	}

	id, err := store.CreateConversation(context.Background())
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	buf.Reset()
	if err := ListSessions(context.Background(), &buf, PlainPalette(), store); err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if buf.String() != id+"\n" {
		t.Errorf("output = %q", buf.String())
	}
}

func TestListTools(t *testing.T) {
	registry, err := tools.WithDefaults("")
	if err != nil {
		t.Fatalf("WithDefaults failed: %v", err)
	}
	var buf bytes.Buffer
	ListTools(&buf, registry, true)

	out := buf.String()
	for _, want := range []string{"add", "multiply", "web_search", "search_input*: string"} {
		if !strings.Contains(out, want) {
			t.Errorf("ListTools output missing %q", want)
		}
	}
}
