// Tool Executor with Retry Logic.
//
// Information Hiding:
// - Retry strategy implementation hidden
// - Backoff algorithm hidden
// - Error classification logic hidden

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Executor provides tool execution with validation, retry and timeout support.
type Executor struct {
	config    ToolConfig
	baseDelay time.Duration
}

// NewExecutor creates a new tool executor with the given configuration.
func NewExecutor(config ToolConfig) *Executor {
	return &Executor{config: config, baseDelay: 100 * time.Millisecond}
}

// NewDefaultExecutor creates an executor with default configuration.
func NewDefaultExecutor() *Executor {
	return NewExecutor(DefaultToolConfig())
}

// Execute validates the arguments, then runs the tool with retry logic
// under the configured timeout. Tool failures, including running past the
// timeout, are returned as failed results; the error return is reserved
// for cancellation of ctx by the caller.
func (e *Executor) Execute(ctx context.Context, tool Tool, args json.RawMessage) (ToolResult, error) {
	if err := tool.Validate(args); err != nil {
		return FailureResult(fmt.Errorf("validation failed: %w", err)), nil
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(e.config.Timeout())*time.Second)
	defer cancel()

	var lastErr error
	toolName := tool.Metadata().Name
	maxRetries := e.config.Retries()

	for attempt := uint32(0); attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-runCtx.Done():
				return e.expired(ctx, toolName)
			case <-time.After(e.calculateBackoff(attempt)):
			}
		}

		result, err := tool.Execute(runCtx, args)
		if err != nil {
			if runCtx.Err() != nil {
				return e.expired(ctx, toolName)
			}
			lastErr = err
			continue
		}

		if result.Success() || !e.shouldRetry(result) {
			return result, nil
		}

		lastErr = result.Error
	}

	// All retries exhausted
	errMsg := "unknown error"
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	return FailureResultf("tool '%s' failed after %d attempts: %s", toolName, maxRetries, errMsg), nil
}

// expired reports the end of a run whose context is done. Caller
// cancellation is an error; the executor's own deadline is a tool failure.
func (e *Executor) expired(ctx context.Context, toolName string) (ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return ToolResult{}, err
	}
	return FailureResultf("tool '%s' timed out after %ds", toolName, e.config.Timeout()), nil
}

// calculateBackoff returns the backoff duration for the given attempt.
func (e *Executor) calculateBackoff(attempt uint32) time.Duration {
	const maxDelay = 5 * time.Second

	delay := e.baseDelay * time.Duration(1<<attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// shouldRetry determines if a failed result is worth another attempt.
// Only transient transport failures are retried.
func (e *Executor) shouldRetry(result ToolResult) bool {
	if result.Error == nil {
		return false
	}

	errLower := strings.ToLower(result.Error.Error())

	nonRetryable := []string{"validation", "invalid", "not configured", "not set", "empty", "http error 4"}
	for _, s := range nonRetryable {
		if strings.Contains(errLower, s) {
			return false
		}
	}

	retryable := []string{"timeout", "timed out", "connection", "network", "http error 5"}
	for _, s := range retryable {
		if strings.Contains(errLower, s) {
			return true
		}
	}

	return false
}

// ExecuteOnce runs a tool once without retries.
func ExecuteOnce(ctx context.Context, tool Tool, args json.RawMessage) (ToolResult, error) {
	if err := tool.Validate(args); err != nil {
		return FailureResult(fmt.Errorf("validation failed: %w", err)), nil
	}

	return tool.Execute(ctx, args)
}
