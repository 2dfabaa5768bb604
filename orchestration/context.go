// Context agent: keeps the long-lived conversation context up to date.
//
// Information Hiding:
// - Context agent prompt hidden
// - Rendering of the previous context hidden

package orchestration

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/richinex/colloquy/agent"
	"github.com/richinex/colloquy/llm"
	"github.com/richinex/colloquy/memory"
)

const contextContract = "context"

const contextPrompt = "You are a context agent. You must update the context with relevant information.\n" +
	"The context must contain relevant user information, useful facts, summaries and other\n" +
	"information that should persist across calls to the chatbot.\n" +
	"Make the context text as small and brief as possible while keeping the important data.\n" +
	"Finish immediately after generating the context. You must not call any tools."

// ContextAgent rewrites memory.Context from recent messages.
type ContextAgent struct {
	agent       *agent.Agent
	coordinator *Coordinator
}

// NewContextAgent creates a context agent that asks client for updates.
func NewContextAgent(client *llm.Client) (*ContextAgent, error) {
	a, err := agent.NewBuilder("context_agent").
		Description("Maintains the conversation summary and user data").
		SystemPrompt(contextPrompt).
		Build(client)
	if err != nil {
		return nil, err
	}

	coordinator := NewCoordinator()
	coordinator.RegisterContract(contextContract, Contract{
		FromAgent: "context_agent",
		Schema: OutputSchema{
			SchemaVersion:  "1.0",
			RequiredFields: []string{"chat_summary", "user_data"},
		},
	})
	return &ContextAgent{agent: a, coordinator: coordinator}, nil
}

// Update returns the new context for messages given the previous one.
// The previous context is appended as a final system message.
func (c *ContextAgent) Update(ctx context.Context, messages []llm.ChatMessage, previous memory.Context) (memory.Context, agent.Result, error) {
	current, err := json.Marshal(previous)
	if err != nil {
		return previous, agent.Result{}, fmt.Errorf("failed to render context: %w", err)
	}

	request := make([]llm.ChatMessage, 0, len(messages)+1)
	request = append(request, messages...)
	request = append(request, llm.SystemMessage("Current context of the conversation:\n"+string(current)))

	var updated memory.Context
	result, err := c.agent.RunStructured(ctx, request, &updated)
	if err != nil {
		return previous, result, err
	}

	if final, ok := result.Final(); ok {
		if validation := c.coordinator.Validate(contextContract, extractObject(final.Content)); !validation.Valid {
			return previous, result, fmt.Errorf("%w: %v", agent.ErrUndecodable, validation.Errors)
		}
	}
	return updated, result, nil
}
