// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/richinex/colloquy/llm"
)

// ErrScriptExhausted is returned when the provider is called more times than
// it has scripted replies.
var ErrScriptExhausted = errors.New("llmtest: no scripted reply left")

// Call records one request made to the provider.
type Call struct {
	Messages []llm.ChatMessage
	Tools    []llm.ToolDefinition
	Format   *llm.ResponseFormat
	Stream   bool
}

// Reply is one scripted response. When Err is set it is returned instead.
type Reply struct {
	Response llm.LLMResponse
	Err      error
}

// Provider replays scripted replies in order.
type Provider struct {
	mu      sync.Mutex
	replies []Reply
	calls   []Call
}

// New returns a provider that answers with the given replies in order.
func New(replies ...Reply) *Provider {
	return &Provider{replies: replies}
}

// Text is a Reply carrying plain assistant content.
func Text(content string) Reply {
	return Reply{Response: llm.LLMResponse{Content: content}}
}

// ToolCalls is a Reply requesting the given tool calls.
func ToolCalls(calls ...llm.ToolCall) Reply {
	return Reply{Response: llm.LLMResponse{ToolCalls: calls}}
}

// Fail is a Reply that fails with err.
func Fail(err error) Reply {
	return Reply{Err: err}
}

// Push appends more scripted replies.
func (p *Provider) Push(replies ...Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, replies...)
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *Provider) Name() string  { return "scripted" }
func (p *Provider) Model() string { return "scripted-model" }

func (p *Provider) next(call Call) (llm.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call.Messages = append([]llm.ChatMessage(nil), call.Messages...)
	p.calls = append(p.calls, call)
	if len(p.replies) == 0 {
		return llm.LLMResponse{}, ErrScriptExhausted
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return r.Response, r.Err
}

func (p *Provider) Chat(ctx context.Context, messages []llm.ChatMessage) (llm.LLMResponse, error) {
	return p.next(Call{Messages: messages})
}

func (p *Provider) ChatWithFormat(ctx context.Context, messages []llm.ChatMessage, format *llm.ResponseFormat) (llm.LLMResponse, error) {
	return p.next(Call{Messages: messages, Format: format})
}

func (p *Provider) ChatWithTools(ctx context.Context, messages []llm.ChatMessage, tools []llm.ToolDefinition) (llm.LLMResponse, error) {
	return p.next(Call{Messages: messages, Tools: tools})
}

func (p *Provider) StreamChat(ctx context.Context, messages []llm.ChatMessage, chunks chan<- string) (*llm.TokenUsage, error) {
	resp, err := p.StreamChatWithTools(ctx, messages, nil, chunks)
	return resp.Usage, err
}

// StreamChatWithTools sends the scripted content word by word, keeping the
// separating spaces so the chunks concatenate to the full content.
func (p *Provider) StreamChatWithTools(ctx context.Context, messages []llm.ChatMessage, tools []llm.ToolDefinition, chunks chan<- string) (llm.LLMResponse, error) {
	resp, err := p.next(Call{Messages: messages, Tools: tools, Stream: true})
	if err != nil || chunks == nil {
		return resp, err
	}
	for _, piece := range strings.SplitAfter(resp.Content, " ") {
		if piece == "" {
			continue
		}
		select {
		case chunks <- piece:
		case <-ctx.Done():
			return resp, ctx.Err()
		}
	}
	return resp, nil
}

var _ llm.Provider = (*Provider)(nil)
