// Agent configuration types.
//
// Information Hiding:
// - Configuration validation logic hidden
// - Default values hidden

package agent

import (
	"fmt"

	"github.com/richinex/colloquy/tools"
)

// DefaultMaxRounds bounds the model → tools → model loop.
const DefaultMaxRounds = 5

// Config holds agent configuration.
type Config struct {
	// Name is a unique identifier for the agent. Assistant messages it
	// produces carry this name.
	Name string

	// Description explains what this agent does (used by supervisors).
	Description string

	// SystemPrompt guides the agent's behavior. Empty means no system message.
	SystemPrompt string

	// Tools available to this agent.
	Tools []tools.Tool

	// MaxRounds is the number of tool rounds allowed before the run is
	// abandoned with ErrMaxRounds.
	MaxRounds int

	// ToolConfig controls per-call timeout and retries.
	ToolConfig tools.ToolConfig
}

// DefaultConfig returns a basic agent configuration.
func DefaultConfig() Config {
	return Config{
		Name:         "agent",
		Description:  "A general-purpose agent",
		SystemPrompt: "You are a helpful assistant.",
		Tools:        []tools.Tool{},
		MaxRounds:    DefaultMaxRounds,
	}
}

// HasTools returns true if the agent has tools configured.
func (c *Config) HasTools() bool {
	return len(c.Tools) > 0
}

// Validate checks the configuration before an agent is built from it.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	if c.MaxRounds < 0 {
		return fmt.Errorf("agent %s: max rounds must not be negative, got %d", c.Name, c.MaxRounds)
	}
	return nil
}
