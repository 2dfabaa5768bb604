package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// ToolCallDelta is one streamed fragment of a tool call. Fragments sharing an
// Index belong to the same call; ID and Name usually arrive once and
// Arguments arrives in pieces.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// ToolCallAccumulator reassembles tool calls from streamed deltas.
// The zero value is ready to use.
type ToolCallAccumulator struct {
	order []int
	calls map[int]*partialCall
}

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

// Add merges a delta into the call at its index.
func (a *ToolCallAccumulator) Add(d ToolCallDelta) {
	if a.calls == nil {
		a.calls = make(map[int]*partialCall)
	}
	call, ok := a.calls[d.Index]
	if !ok {
		call = &partialCall{}
		a.calls[d.Index] = call
		a.order = append(a.order, d.Index)
	}
	if d.ID != "" {
		call.id = d.ID
	}
	if d.Name != "" {
		call.name += d.Name
	}
	call.args.WriteString(d.Arguments)
}

// Len returns the number of distinct calls seen so far.
func (a *ToolCallAccumulator) Len() int {
	return len(a.order)
}

// Calls returns the reassembled calls in first-seen order.
// Calls without arguments get an empty JSON object.
func (a *ToolCallAccumulator) Calls() []ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	result := make([]ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		call := a.calls[idx]
		args := strings.TrimSpace(call.args.String())
		if args == "" {
			args = "{}"
		}
		result = append(result, ToolCall{
			ID:        call.id,
			Name:      call.name,
			Arguments: json.RawMessage(args),
		})
	}
	return result
}

// sendChunk forwards a text fragment unless the context is done.
func sendChunk(ctx context.Context, chunks chan<- string, text string) error {
	if text == "" || chunks == nil {
		return nil
	}
	select {
	case chunks <- text:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
