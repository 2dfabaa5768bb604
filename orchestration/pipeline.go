// Pipeline: route → supervise → (optionally) update context, for one turn.
//
// Information Hiding:
// - System selection and fallback hidden
// - Window sanitising hidden
// - Context update failure policy hidden

package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/richinex/colloquy/agent"
	"github.com/richinex/colloquy/llm"
	"github.com/richinex/colloquy/memory"
)

// Pipeline answers a turn with the supervisor the router picks, then lets
// the context agent (if any) rewrite the conversation context.
type Pipeline struct {
	router  *Router
	systems map[System]*agent.Agent
	context *ContextAgent
	logger  *slog.Logger
}

// TurnResult is the outcome of one pipeline turn.
type TurnResult struct {
	Route RouterOutput
	// Messages produced by the chosen supervisor, in order.
	Messages []llm.ChatMessage
	// Context is the context to persist; the previous one when no update happened.
	Context        memory.Context
	ContextUpdated bool
}

// NewPipeline wires a router to its systems. The default system must be
// present. contextAgent may be nil to skip context updates.
func NewPipeline(router *Router, systems map[System]*agent.Agent, contextAgent *ContextAgent, logger *slog.Logger) (*Pipeline, error) {
	if router == nil {
		return nil, fmt.Errorf("pipeline needs a router")
	}
	if systems[DefaultSystem] == nil {
		return nil, fmt.Errorf("pipeline needs the default system %s", DefaultSystem)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{router: router, systems: systems, context: contextAgent, logger: logger}, nil
}

// Respond runs one turn over messages. The previous context, when set, is
// given to the supervisor as a system message. onChunk may be nil.
func (p *Pipeline) Respond(ctx context.Context, messages []llm.ChatMessage, previous memory.Context, onChunk llm.ChunkFunc) (TurnResult, error) {
	turn := TurnResult{Context: previous}
	messages = dropLeadingToolResults(messages)

	route, err := p.router.Route(ctx, messages)
	if err != nil {
		return turn, fmt.Errorf("failed to route message: %w", err)
	}
	turn.Route = route

	supervisor, ok := p.systems[route.Decision]
	if !ok {
		p.logger.Warn("no system for decision, using default", "decision", route.Decision)
		turn.Route.Decision = DefaultSystem
		supervisor = p.systems[DefaultSystem]
	}

	input := messages
	if prompt := previous.Prompt(); prompt != "" {
		input = append([]llm.ChatMessage{llm.SystemMessage(prompt)}, messages...)
	}

	var result agent.Result
	if onChunk != nil {
		result, err = supervisor.Stream(ctx, input, onChunk)
	} else {
		result, err = supervisor.Run(ctx, input)
	}
	turn.Messages = result.Messages
	if err != nil {
		return turn, err
	}

	if p.context == nil {
		return turn, nil
	}

	transcript := append(append([]llm.ChatMessage(nil), messages...), result.Messages...)
	updated, _, err := p.context.Update(ctx, transcript, previous)
	switch {
	case err == nil:
		turn.Context = updated
		turn.ContextUpdated = true
	case errors.Is(err, agent.ErrUndecodable):
		p.logger.Warn("context update discarded", "error", err)
	default:
		return turn, fmt.Errorf("failed to update context: %w", err)
	}
	return turn, nil
}

// dropLeadingToolResults removes tool results whose requesting assistant
// message fell outside the window; providers reject them.
func dropLeadingToolResults(messages []llm.ChatMessage) []llm.ChatMessage {
	for len(messages) > 0 && messages[0].Role == llm.RoleTool {
		messages = messages[1:]
	}
	return messages
}
