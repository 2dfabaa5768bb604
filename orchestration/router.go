// Structured router: picks which multi-agent system answers a message.
//
// Information Hiding:
// - Router prompt and output schema hidden
// - Fallback on unusable decisions hidden

package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/richinex/colloquy/agent"
	"github.com/richinex/colloquy/llm"
)

// System names a multi-agent system the router can choose.
type System string

const (
	SystemResearch System = "RESEARCH"
	SystemMath     System = "MATH"
)

// DefaultSystem is used when the router's decision is unusable.
const DefaultSystem = SystemResearch

const routerContract = "router"

const routerPrompt = "You route user messages to one of two multi-agent systems.\n" +
	"Answer with a `decision` that is either `RESEARCH` or `MATH`, and a short `reason`.\n" +
	"Use `MATH` for arithmetic tasks. Use `RESEARCH` for everything else, and by default."

// RouterOutput is the router's structured decision.
type RouterOutput struct {
	Decision System `json:"decision" jsonschema:"enum=RESEARCH,enum=MATH" jsonschema_description:"Which system answers the message. RESEARCH by default."`
	Reason   string `json:"reason" jsonschema_description:"Why this routing decision was made."`
}

// Router chooses a System from the latest message.
type Router struct {
	agent       *agent.Agent
	coordinator *Coordinator
	logger      *slog.Logger
}

// NewRouter creates a router that asks client for its decisions.
func NewRouter(client *llm.Client, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a, err := agent.NewBuilder("router").
		Description("Routes messages to the research or math system").
		SystemPrompt(routerPrompt).
		Build(client)
	if err != nil {
		return nil, err
	}

	coordinator := NewCoordinator()
	coordinator.RegisterContract(routerContract, Contract{
		FromAgent: "router",
		Schema: OutputSchema{
			SchemaVersion:  "1.0",
			RequiredFields: []string{"decision", "reason"},
			ValidationRules: []ValidationRule{
				{Field: "decision", RuleType: ValidationEnum, Constraint: string(SystemResearch) + "|" + string(SystemMath)},
			},
		},
	})

	return &Router{agent: a, coordinator: coordinator, logger: logger}, nil
}

// Route decides on the last message of messages only. A decision outside
// the known systems, or a reply that cannot be decoded, falls back to
// DefaultSystem; request failures are returned.
func (r *Router) Route(ctx context.Context, messages []llm.ChatMessage) (RouterOutput, error) {
	if len(messages) == 0 {
		return RouterOutput{}, fmt.Errorf("router needs at least one message")
	}
	latest := messages[len(messages)-1]

	var out RouterOutput
	result, err := r.agent.RunStructured(ctx, []llm.ChatMessage{latest}, &out)
	if err != nil {
		if !errors.Is(err, agent.ErrUndecodable) {
			return RouterOutput{}, err
		}
		r.logger.Warn("router reply undecodable, using default system", "error", err)
		return RouterOutput{Decision: DefaultSystem, Reason: "router reply could not be decoded"}, nil
	}

	if validation := r.coordinator.Validate(routerContract, extractObject(result.Text())); validation.HasFieldError("decision") {
		r.logger.Warn("router decision rejected, using default system", "decision", out.Decision, "errors", validation.Errors)
		out.Decision = DefaultSystem
	}
	return out, nil
}
