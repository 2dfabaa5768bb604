// Pre-built agents and supervisors for the chat drivers.
//
// Information Hiding:
// - Agent prompts hidden
// - Tool assignment per agent hidden

package cli

import (
	"fmt"
	"log/slog"

	"github.com/richinex/colloquy/agent"
	"github.com/richinex/colloquy/llm"
	"github.com/richinex/colloquy/orchestration"
	"github.com/richinex/colloquy/tools"
)

// Agent names. Output filtering in the drivers relies on them.
const (
	ResearchAgentName        = "research_agent"
	CalculatorAgentName      = "calculator_agent"
	WriterAgentName          = "writer_agent"
	SupervisorName           = "supervisor"
	ResearchSupervisorName   = "research_supervisor"
	CalculatorSupervisorName = "calculator_supervisor"
)

const (
	researchPrompt = "You are a research agent. You only perform web research tasks, using the web_search tool.\n" +
		"As soon as you finish the search, you return to your supervisor the search results.\n" +
		"Do not include extra text in the search results."

	calculatorPrompt = "You are a calculator agent. Do only sum, subtraction and multiplication, and nothing else.\n" +
		"Respond directly to your supervisor, and do not include any text other than the task results."

	writerPrompt = "You are a writer agent. You should only generate text for the response.\n" +
		"Respond directly to your supervisor."

	supervisorPrompt = "You are a supervisor managing three agents: a research agent, a calculator agent and a writer agent.\n" +
		"Assign work to one agent at a time, and always let the writer agent write the response to the user."

	researchSupervisorPrompt = "You are a supervisor managing two agents:\n" +
		"- A research agent. Assign research related tasks to this agent.\n" +
		"- A writer agent. Assign text generation tasks to this agent.\n" +
		"Assign work to one agent at a time, do not call agents in parallel.\n" +
		"Do not do any work yourself.\n" +
		"Never write the responses to the user messages, assign the writer agent to do that, always."

	calculatorSupervisorPrompt = "You are a supervisor managing one agent:\n" +
		"- A calculator agent. Assign math tasks to this agent.\n" +
		"Do not do any math work yourself."
)

// team holds the worker agents shared by the multi-agent drivers.
type team struct {
	research   *agent.Agent
	calculator *agent.Agent
	writer     *agent.Agent
}

// teamOptions configures agent construction.
type teamOptions struct {
	maxRounds int
	observer  agent.ToolObserver
	logger    *slog.Logger
}

func (o teamOptions) build(client *llm.Client, b *agent.Builder) (*agent.Agent, error) {
	a, err := b.MaxRounds(o.maxRounds).Build(client)
	if err != nil {
		return nil, err
	}
	return a.WithLogger(o.logger).WithToolObserver(o.observer), nil
}

// newTeam builds the research, calculator and writer agents over registry.
func newTeam(client *llm.Client, registry *tools.Registry, opts teamOptions) (*team, error) {
	search, err := registry.Subset("web_search")
	if err != nil {
		return nil, err
	}
	calc, err := registry.Subset("add", "subtract", "multiply")
	if err != nil {
		return nil, err
	}

	research, err := opts.build(client, agent.NewBuilder(ResearchAgentName).
		Description("Performs web research").
		SystemPrompt(researchPrompt).
		Tools(search.Tools()))
	if err != nil {
		return nil, err
	}
	calculator, err := opts.build(client, agent.NewBuilder(CalculatorAgentName).
		Description("Adds, subtracts and multiplies").
		SystemPrompt(calculatorPrompt).
		Tools(calc.Tools()))
	if err != nil {
		return nil, err
	}
	writer, err := opts.build(client, agent.NewBuilder(WriterAgentName).
		Description("Writes responses").
		SystemPrompt(writerPrompt))
	if err != nil {
		return nil, err
	}

	return &team{research: research, calculator: calculator, writer: writer}, nil
}

func (o teamOptions) supervise(client *llm.Client, name, prompt string, workers ...orchestration.Worker) (*agent.Agent, error) {
	s, err := orchestration.NewSupervisor(orchestration.SupervisorConfig{
		Name:         name,
		SystemPrompt: prompt,
		MaxRounds:    o.maxRounds,
	}, client, workers...)
	if err != nil {
		return nil, err
	}
	return s.WithLogger(o.logger).WithToolObserver(o.observer), nil
}

// newSupervisor builds the single supervisor over all three workers.
func newSupervisor(client *llm.Client, t *team, opts teamOptions) (*agent.Agent, error) {
	return opts.supervise(client, SupervisorName, supervisorPrompt,
		orchestration.Worker{Agent: t.research, Description: "Assign task to the research agent."},
		orchestration.Worker{Agent: t.calculator, Description: "Assign task to the calculator agent. Assign all math operations to the calculator agent, always."},
		orchestration.Worker{Agent: t.writer, Description: "Assign task to the writer agent. Always use the writer agent to write the responses."},
	)
}

// newSystems builds the research and math supervisors the router picks from.
func newSystems(client *llm.Client, t *team, opts teamOptions) (map[orchestration.System]*agent.Agent, error) {
	research, err := opts.supervise(client, ResearchSupervisorName, researchSupervisorPrompt,
		orchestration.Worker{Agent: t.research, Description: "Assign task to the research agent."},
		orchestration.Worker{Agent: t.writer, Description: "Assign task to the writer agent."},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build research system: %w", err)
	}
	math, err := opts.supervise(client, CalculatorSupervisorName, calculatorSupervisorPrompt,
		orchestration.Worker{Agent: t.calculator, Description: "Assign task to the calculator agent."},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build math system: %w", err)
	}
	return map[orchestration.System]*agent.Agent{
		orchestration.SystemResearch: research,
		orchestration.SystemMath:     math,
	}, nil
}
