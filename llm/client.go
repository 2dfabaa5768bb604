// LLMClient - thin wrapper that hides the choice between a single-shot
// request and a streamed one.

package llm

import (
	"context"
)

// ChunkFunc receives streamed text fragments in arrival order.
type ChunkFunc func(text string)

// Client wraps a Provider with a simple interface.
type Client struct {
	provider Provider
}

// NewClient creates a new LLM client from a provider.
func NewClient(provider Provider) *Client {
	return &Client{provider: provider}
}

// Chat sends a chat completion request and returns just the content.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	response, err := c.provider.Chat(ctx, messages)
	if err != nil {
		return "", err
	}
	return response.Content, nil
}

// ChatWithFormat requests a reply constrained to the given response format.
func (c *Client) ChatWithFormat(ctx context.Context, messages []ChatMessage, format *ResponseFormat) (LLMResponse, error) {
	return c.provider.ChatWithFormat(ctx, messages, format)
}

// Reply produces the next assistant message. With a nil onChunk the request
// is single-shot; otherwise fragments are delivered to onChunk while the
// stream runs and the aggregated message is returned at the end.
func (c *Client) Reply(ctx context.Context, messages []ChatMessage, tools []ToolDefinition, onChunk ChunkFunc) (LLMResponse, error) {
	if onChunk == nil {
		if len(tools) == 0 {
			return c.provider.Chat(ctx, messages)
		}
		return c.provider.ChatWithTools(ctx, messages, tools)
	}

	chunks := make(chan string)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for text := range chunks {
			onChunk(text)
		}
	}()

	resp, err := c.provider.StreamChatWithTools(ctx, messages, tools, chunks)
	close(chunks)
	<-done
	return resp, err
}

// Provider returns the underlying provider.
func (c *Client) Provider() Provider {
	return c.provider
}
