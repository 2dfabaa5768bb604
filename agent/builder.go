// Agent builder for fluent configuration.
//
// Information Hiding:
// - Builder state management hidden
// - Default value application hidden

package agent

import (
	"fmt"

	"github.com/richinex/colloquy/llm"
	"github.com/richinex/colloquy/tools"
)

// Builder provides fluent configuration for creating agents.
// Usage: agent.NewBuilder("name") - no stutter.
type Builder struct {
	name         string
	description  string
	systemPrompt string
	tools        []tools.Tool
	maxRounds    int
	toolConfig   tools.ToolConfig
}

// NewBuilder creates a new agent builder with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:      name,
		tools:     []tools.Tool{},
		maxRounds: DefaultMaxRounds,
	}
}

// Description sets the agent's description.
func (b *Builder) Description(description string) *Builder {
	b.description = description
	return b
}

// SystemPrompt sets the agent's system prompt.
func (b *Builder) SystemPrompt(prompt string) *Builder {
	b.systemPrompt = prompt
	return b
}

// Tool adds a tool to the agent.
func (b *Builder) Tool(tool tools.Tool) *Builder {
	b.tools = append(b.tools, tool)
	return b
}

// Tools adds multiple tools at once.
func (b *Builder) Tools(toolList []tools.Tool) *Builder {
	b.tools = append(b.tools, toolList...)
	return b
}

// MaxRounds sets the tool round limit. Values below one are ignored.
func (b *Builder) MaxRounds(n int) *Builder {
	if n > 0 {
		b.maxRounds = n
	}
	return b
}

// ToolConfig sets the tool execution configuration.
func (b *Builder) ToolConfig(config tools.ToolConfig) *Builder {
	b.toolConfig = config
	return b
}

// Config creates the agent configuration.
func (b *Builder) Config() Config {
	description := b.description
	if description == "" {
		description = fmt.Sprintf("Agent: %s", b.name)
	}

	return Config{
		Name:         b.name,
		Description:  description,
		SystemPrompt: b.systemPrompt,
		Tools:        b.tools,
		MaxRounds:    b.maxRounds,
		ToolConfig:   b.toolConfig,
	}
}

// Build creates the agent bound to client.
func (b *Builder) Build(client *llm.Client) (*Agent, error) {
	return New(b.Config(), client)
}

// Name returns the builder's agent name.
func (b *Builder) Name() string {
	return b.name
}

// ToolCount returns the number of tools registered.
func (b *Builder) ToolCount() int {
	return len(b.tools)
}
