// Supervisor - Multi-Agent Orchestration.
//
// "Agent of agents": a tool-calling agent whose only tools are handoffs to
// specialised workers. Workers can be invoked several times in one turn
// ("return ticket" pattern), bounded by the supervisor's round limit.
//
// Information Hiding:
// - Handoff tool construction hidden
// - Worker invocation coordination hidden

package orchestration

import (
	"fmt"

	"github.com/richinex/colloquy/agent"
	"github.com/richinex/colloquy/llm"
	"github.com/richinex/colloquy/tools"
)

// handoffTimeoutSecs bounds one delegated worker run, which may itself
// make several model requests.
const handoffTimeoutSecs = 300

// Worker is an agent offered to a supervisor, with the description the
// supervisor sees on its handoff tool.
type Worker struct {
	Agent       *agent.Agent
	Description string
}

// SupervisorConfig holds configuration for the supervisor.
type SupervisorConfig struct {
	Name         string
	SystemPrompt string
	MaxRounds    int
}

// NewSupervisor builds a supervisor agent that delegates to workers
// through transfer_to_<worker> tools. Handoffs are not retried.
func NewSupervisor(config SupervisorConfig, client *llm.Client, workers ...Worker) (*agent.Agent, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("supervisor %s needs at least one worker", config.Name)
	}

	builder := agent.NewBuilder(config.Name).
		Description(fmt.Sprintf("Supervisor of %d agents", len(workers))).
		SystemPrompt(config.SystemPrompt).
		MaxRounds(config.MaxRounds).
		ToolConfig(tools.ToolConfig{TimeoutSecs: handoffTimeoutSecs, MaxRetries: 1})

	for _, w := range workers {
		if w.Agent == nil {
			return nil, fmt.Errorf("supervisor %s: nil worker", config.Name)
		}
		builder.Tool(NewHandoffTool(w.Agent, w.Description))
	}

	supervisor, err := builder.Build(client)
	if err != nil {
		return nil, fmt.Errorf("failed to build supervisor: %w", err)
	}
	return supervisor, nil
}
