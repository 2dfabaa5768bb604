// Calculator tools: add, subtract and multiply two numbers.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

type binaryArgs struct {
	A *float64 `json:"a"`
	B *float64 `json:"b"`
}

func parseBinaryArgs(args json.RawMessage) (float64, float64, error) {
	var a binaryArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return 0, 0, fmt.Errorf("invalid arguments: %w", err)
	}
	if a.A == nil || a.B == nil {
		return 0, 0, fmt.Errorf("validation: both 'a' and 'b' are required")
	}
	return *a.A, *a.B, nil
}

// ArithmeticTool applies a binary operation to float arguments a and b.
type ArithmeticTool struct {
	name        string
	description string
	op          func(a, b float64) float64
}

// NewAddTool returns the add tool (a + b).
func NewAddTool() *ArithmeticTool {
	return &ArithmeticTool{
		name:        "add",
		description: "Given two float numbers as arguments (`a` and `b`), the values are summed (a + b), and the resulting float number is returned.",
		op:          func(a, b float64) float64 { return a + b },
	}
}

// NewSubtractTool returns the subtract tool (a - b).
func NewSubtractTool() *ArithmeticTool {
	return &ArithmeticTool{
		name:        "subtract",
		description: "Given two float numbers as arguments (`a` and `b`), `b` is subtracted from `a` (a - b), and the resulting float number is returned.",
		op:          func(a, b float64) float64 { return a - b },
	}
}

// NewMultiplyTool returns the multiply tool (a * b).
func NewMultiplyTool() *ArithmeticTool {
	return &ArithmeticTool{
		name:        "multiply",
		description: "Given two float numbers as arguments (`a` and `b`), the values are multiplied (a * b), and the resulting float number is returned.",
		op:          func(a, b float64) float64 { return a * b },
	}
}

// CalculatorTools returns add, subtract and multiply.
func CalculatorTools() []Tool {
	return []Tool{NewAddTool(), NewSubtractTool(), NewMultiplyTool()}
}

// Metadata returns the tool metadata.
func (t *ArithmeticTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        t.name,
		Description: t.description,
		Parameters: []ToolParameter{
			{Name: "a", ParamType: "number", Description: "First operand", Required: true},
			{Name: "b", ParamType: "number", Description: "Second operand", Required: true},
		},
	}
}

// Validate validates the arguments.
func (t *ArithmeticTool) Validate(args json.RawMessage) error {
	_, _, err := parseBinaryArgs(args)
	return err
}

// Execute computes the result.
func (t *ArithmeticTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	a, b, err := parseBinaryArgs(args)
	if err != nil {
		return FailureResult(err), nil
	}
	return SuccessResult(strconv.FormatFloat(t.op(a, b), 'g', -1, 64)), nil
}
