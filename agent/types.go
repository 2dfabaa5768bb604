// Package agent provides a tool-calling agent over an llm.Provider.
//
// Contains the result and error types returned by agent runs.
package agent

import (
	"errors"

	"github.com/richinex/colloquy/llm"
	"github.com/richinex/colloquy/model"
)

// ErrMaxRounds is returned when the model still requests tools after the
// configured number of rounds.
var ErrMaxRounds = errors.New("agent exceeded max tool rounds")

// ErrUndecodable is returned by RunStructured when the reply does not
// contain a JSON object matching the requested shape.
var ErrUndecodable = errors.New("structured reply could not be decoded")

// ToolCall is an alias for model.ToolCall for tool call metadata.
type ToolCall = model.ToolCall

// Result is the outcome of one agent run.
type Result struct {
	// Messages are the messages produced by the run, in order: assistant
	// messages (named after the agent) interleaved with tool results.
	Messages []llm.ChatMessage

	// ToolCalls records metrics for every executed tool call.
	ToolCalls []ToolCall

	// Usage is the summed token usage reported by the provider.
	Usage llm.TokenUsage

	// Rounds counts model requests.
	Rounds int
}

// Final returns the last assistant message of the run, or false if the
// run produced none.
func (r Result) Final() (llm.ChatMessage, bool) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == llm.RoleAssistant {
			return r.Messages[i], true
		}
	}
	return llm.ChatMessage{}, false
}

// Text returns the content of the final assistant message.
func (r Result) Text() string {
	msg, _ := r.Final()
	return msg.Content
}
