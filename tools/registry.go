// Package tools provides tool management and registration.
//
// Information Hiding:
// - Tool storage and lookup implementation hidden
// - Registration and discovery mechanisms abstracted
// - Conversion to model-facing tool definitions hidden

package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/richinex/colloquy/llm"
)

// Registry manages available tools with dynamic registration.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// NewRegistryWith creates a registry holding the given tools.
func NewRegistryWith(tools ...Tool) (*Registry, error) {
	r := NewRegistry()
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a new tool to the registry.
// Returns error if a tool with the same name already exists.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Metadata().Name
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool '%s' already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	return tool, exists
}

// Has checks if a tool exists in the registry.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tools[name]
	return exists
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Names returns all registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns metadata for all registered tools, sorted by name.
func (r *Registry) List() []ToolMetadata {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	metadata := make([]ToolMetadata, 0, len(names))
	for _, name := range names {
		if tool, ok := r.tools[name]; ok {
			metadata = append(metadata, tool.Metadata())
		}
	}
	return metadata
}

// Tools returns all registered tools, sorted by name.
func (r *Registry) Tools() []Tool {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		if tool, ok := r.tools[name]; ok {
			tools = append(tools, tool)
		}
	}
	return tools
}

// Definitions returns the tools as model-facing definitions, sorted by name.
func (r *Registry) Definitions() []llm.ToolDefinition {
	metas := r.List()
	defs := make([]llm.ToolDefinition, len(metas))
	for i, meta := range metas {
		defs[i] = llm.ToolDefinition{
			Name:        meta.Name,
			Description: meta.Description,
			Parameters:  meta.Schema(),
		}
	}
	return defs
}

// Subset returns a new registry with only the named tools.
func (r *Registry) Subset(names ...string) (*Registry, error) {
	sub := NewRegistry()
	for _, name := range names {
		tool, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("tool '%s' not registered", name)
		}
		if err := sub.Register(tool); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// Description returns a formatted description of all tools for prompts and listings.
func (r *Registry) Description() string {
	var descriptions []string
	for _, meta := range r.List() {
		var params []string
		for _, p := range meta.Parameters {
			required := "optional"
			if p.Required {
				required = "required"
			}
			params = append(params, fmt.Sprintf("  - %s (%s): %s [%s]",
				p.Name, p.ParamType, p.Description, required))
		}

		descriptions = append(descriptions, fmt.Sprintf(
			"Tool: %s\nDescription: %s\nParameters:\n%s",
			meta.Name, meta.Description, strings.Join(params, "\n")))
	}

	return strings.Join(descriptions, "\n\n")
}

// DefaultToolTimeout is the default tool timeout in seconds.
const DefaultToolTimeout = 30

// WithDefaults creates a registry with the calculator tools and web search.
// Returns error if any tool registration fails.
func WithDefaults(searchAPIKey string) (*Registry, error) {
	tools := append(CalculatorTools(), NewWebSearchTool(searchAPIKey, DefaultToolTimeout))
	registry, err := NewRegistryWith(tools...)
	if err != nil {
		return nil, fmt.Errorf("failed to register default tools: %w", err)
	}
	return registry, nil
}
