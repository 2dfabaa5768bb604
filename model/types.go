// Package model provides domain types shared across packages.
package model

// ToolCall contains metrics about a tool invocation.
// Agents record one per executed call; drivers print them in verbose mode.
type ToolCall struct {
	Name       string `json:"name"`
	InputSize  int    `json:"input_size"`
	OutputSize int    `json:"output_size"`
	DurationMs uint64 `json:"duration_ms"`
	Success    bool   `json:"success"`
}

// Stats aggregates the tool calls of one run.
type Stats struct {
	Calls    int
	Failures int
	TotalMs  uint64
	ByTool   map[string]int
}

// Summarize folds calls into Stats.
func Summarize(calls []ToolCall) Stats {
	stats := Stats{ByTool: make(map[string]int)}
	for _, c := range calls {
		stats.Calls++
		if !c.Success {
			stats.Failures++
		}
		stats.TotalMs += c.DurationMs
		stats.ByTool[c.Name]++
	}
	return stats
}
