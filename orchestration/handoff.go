// Handoff tools: agents exposed to a supervisor as callable tools.
//
// Information Hiding:
// - Sub-agent invocation hidden behind the tools.Tool interface
// - Only the sub-agent's last message crosses the boundary

package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/richinex/colloquy/agent"
	"github.com/richinex/colloquy/llm"
	"github.com/richinex/colloquy/tools"
)

// HandoffPrefix is prepended to an agent name to form its tool name.
const HandoffPrefix = "transfer_to_"

// HandoffTool delegates a query to an agent.
type HandoffTool struct {
	agent       *agent.Agent
	description string
}

// NewHandoffTool wraps a as the tool transfer_to_<name>. An empty
// description defaults to "Delegate task to the <name>.".
func NewHandoffTool(a *agent.Agent, description string) *HandoffTool {
	if description == "" {
		description = fmt.Sprintf("Delegate task to the %s.", a.Name())
	}
	return &HandoffTool{agent: a, description: description}
}

// HandoffName returns the tool name for an agent name.
func HandoffName(agentName string) string {
	return HandoffPrefix + agentName
}

// IsHandoff reports whether a tool name is a handoff.
func IsHandoff(toolName string) bool {
	return strings.HasPrefix(toolName, HandoffPrefix)
}

// Metadata returns the tool metadata.
func (h *HandoffTool) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name:        HandoffName(h.agent.Name()),
		Description: h.description,
		Parameters: []tools.ToolParameter{
			{Name: "query", ParamType: "string", Description: "The complete task for the agent, including any data it needs.", Required: true},
		},
	}
}

type handoffArgs struct {
	Query string `json:"query"`
}

func parseHandoffArgs(args json.RawMessage) (string, error) {
	var a handoffArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(a.Query) == "" {
		return "", fmt.Errorf("query cannot be empty")
	}
	return a.Query, nil
}

// Validate validates the arguments.
func (h *HandoffTool) Validate(args json.RawMessage) error {
	_, err := parseHandoffArgs(args)
	return err
}

// Execute runs the agent on the query and returns its last message.
func (h *HandoffTool) Execute(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
	query, err := parseHandoffArgs(args)
	if err != nil {
		return tools.FailureResult(err), nil
	}

	result, err := h.agent.Run(ctx, []llm.ChatMessage{llm.UserMessage(query)})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return tools.ToolResult{}, err
		}
		return tools.FailureResult(fmt.Errorf("%s failed: %w", h.agent.Name(), err)), nil
	}

	if len(result.Messages) == 0 {
		return tools.SuccessResult(""), nil
	}
	return tools.SuccessResult(result.Messages[len(result.Messages)-1].Content), nil
}

var _ tools.Tool = (*HandoffTool)(nil)
