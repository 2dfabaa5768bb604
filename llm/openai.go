// OpenAI Provider implementation using go-openai library.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for OpenAI Chat Completions API
// - Streaming via go-openai library, including tool-call deltas
// - OpenAI-compatible vendors (Groq, DeepSeek) differ only by base URL

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

const (
	groqBaseURL     = "https://api.groq.com/openai/v1"
	deepseekBaseURL = "https://api.deepseek.com/v1"
)

// OpenAIProvider implements the Provider interface for OpenAI and
// OpenAI-compatible chat completion APIs.
type OpenAIProvider struct {
	name        string
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(apiKey, model string, maxTokens uint32, temperature float32) *OpenAIProvider {
	return newOpenAICompatible("openai", openai.DefaultConfig(apiKey), model, maxTokens, temperature)
}

// NewGroqProvider creates a provider for Groq's OpenAI-compatible endpoint.
func NewGroqProvider(apiKey, model string, maxTokens uint32, temperature float32) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = groqBaseURL
	return newOpenAICompatible("groq", config, model, maxTokens, temperature)
}

// NewDeepSeekProvider creates a provider for DeepSeek's OpenAI-compatible endpoint.
func NewDeepSeekProvider(apiKey, model string, maxTokens uint32, temperature float32) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = deepseekBaseURL
	return newOpenAICompatible("deepseek", config, model, maxTokens, temperature)
}

func newOpenAICompatible(name string, config openai.ClientConfig, model string, maxTokens uint32, temperature float32) *OpenAIProvider {
	return &OpenAIProvider{
		name:        name,
		client:      openai.NewClientWithConfig(config),
		model:       model,
		maxTokens:   int(maxTokens),
		temperature: temperature,
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Model returns the current model.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Chat sends a chat completion request.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error) {
	return p.ChatWithFormat(ctx, messages, nil)
}

// ChatWithFormat sends a chat completion request with optional response format.
func (p *OpenAIProvider) ChatWithFormat(ctx context.Context, messages []ChatMessage, format *ResponseFormat) (LLMResponse, error) {
	converted, err := convertToOpenAIMessages(messages)
	if err != nil {
		return LLMResponse{}, err
	}

	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    converted,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}

	if format != nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatType(format.Type),
		}
		if format.JSONSchema != nil {
			req.ResponseFormat.JSONSchema = &openai.ChatCompletionResponseFormatJSONSchema{
				Name:        format.JSONSchema.Name,
				Description: format.JSONSchema.Description,
				Schema:      format.JSONSchema.Schema,
				Strict:      format.JSONSchema.Strict,
			}
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("chat completion failed: %w", err)
	}

	return convertFromOpenAIResponse(resp), nil
}

// ChatWithTools sends a chat completion request with tool definitions.
func (p *OpenAIProvider) ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (LLMResponse, error) {
	converted, err := convertToOpenAIMessages(messages)
	if err != nil {
		return LLMResponse{}, err
	}

	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    converted,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
		Tools:       convertToOpenAITools(tools),
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("chat completion failed: %w", err)
	}

	return convertFromOpenAIResponse(resp), nil
}

// StreamChat streams a chat completion.
func (p *OpenAIProvider) StreamChat(ctx context.Context, messages []ChatMessage, chunks chan<- string) (*TokenUsage, error) {
	resp, err := p.StreamChatWithTools(ctx, messages, nil, chunks)
	return resp.Usage, err
}

// StreamChatWithTools streams a chat completion and reassembles tool calls
// from their index-keyed deltas.
func (p *OpenAIProvider) StreamChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition, chunks chan<- string) (LLMResponse, error) {
	converted, err := convertToOpenAIMessages(messages)
	if err != nil {
		return LLMResponse{}, err
	}

	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    converted,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
		Stream:      true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if len(tools) > 0 {
		req.Tools = convertToOpenAITools(tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("stream creation failed: %w", err)
	}
	defer stream.Close()

	var result LLMResponse
	var content []byte
	var calls ToolCallAccumulator
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			result.Content = string(content)
			result.ToolCalls = calls.Calls()
			return result, fmt.Errorf("stream recv failed: %w", err)
		}

		// Capture token usage from final chunk
		if response.Usage != nil {
			result.Usage = &TokenUsage{
				PromptTokens:     uint32(response.Usage.PromptTokens),
				CompletionTokens: uint32(response.Usage.CompletionTokens),
				TotalTokens:      uint32(response.Usage.TotalTokens),
			}
		}

		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta
		for i, tc := range delta.ToolCalls {
			index := i
			if tc.Index != nil {
				index = *tc.Index
			}
			calls.Add(ToolCallDelta{
				Index:     index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		if delta.Content != "" {
			content = append(content, delta.Content...)
			if err := sendChunk(ctx, chunks, delta.Content); err != nil {
				result.Content = string(content)
				return result, err
			}
		}
	}

	result.Content = string(content)
	result.ToolCalls = calls.Calls()
	return result, nil
}

func convertFromOpenAIResponse(resp openai.ChatCompletionResponse) LLMResponse {
	content := ""
	var toolCalls []ToolCall
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		// Convert OpenAI tool calls to our format
		for _, tc := range resp.Choices[0].Message.ToolCalls {
			toolCalls = append(toolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: []byte(tc.Function.Arguments),
			})
		}
	}

	usage := &TokenUsage{
		PromptTokens:     uint32(resp.Usage.PromptTokens),
		CompletionTokens: uint32(resp.Usage.CompletionTokens),
		TotalTokens:      uint32(resp.Usage.TotalTokens),
	}

	return LLMResponse{Content: content, ToolCalls: toolCalls, Usage: usage}
}

// convertToOpenAIMessages converts our ChatMessage to openai.ChatCompletionMessage,
// carrying tool calls and tool responses.
func convertToOpenAIMessages(messages []ChatMessage) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:    msg.Role.String(),
			Content: msg.Content,
		}

		switch msg.Role {
		case RoleSystem, RoleUser:
		case RoleAssistant:
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
		case RoleTool:
			oaiMsg.ToolCallID = msg.ToolCallID
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownRole, msg.Role)
		}

		result[i] = oaiMsg
	}
	return result, nil
}

// convertToOpenAITools converts tool definitions to OpenAI format.
func convertToOpenAITools(tools []ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return result
}

// Verify OpenAIProvider implements Provider
var _ Provider = (*OpenAIProvider)(nil)
