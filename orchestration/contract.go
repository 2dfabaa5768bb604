// Output contracts for structured agent replies.
//
// Structured outputs (router decisions, context updates) are checked
// against a registered contract before they are acted on.
//
// Information Hiding:
// - Contract storage and lookup hidden
// - Validation logic hidden

package orchestration

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	jsonutil "github.com/richinex/colloquy/internal/json"
)

// Contract defines expected output from an agent.
type Contract struct {
	FromAgent string
	ToAgent   *string // nil if no specific target
	Schema    OutputSchema
}

// Coordinator manages output contracts between agents.
type Coordinator struct {
	mu        sync.RWMutex
	contracts map[string]Contract
}

// NewCoordinator creates a new coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		contracts: make(map[string]Contract),
	}
}

// RegisterContract registers a contract under name, replacing any previous one.
func (c *Coordinator) RegisterContract(name string, contract Contract) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contracts[name] = contract
}

// GetContract retrieves a contract by name.
func (c *Coordinator) GetContract(name string) (Contract, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	contract, exists := c.contracts[name]
	return contract, exists
}

// Validate checks a JSON object output against a registered contract.
func (c *Coordinator) Validate(contractName string, output string) ValidationResult {
	contract, exists := c.GetContract(contractName)
	if !exists {
		return NewValidationFailure([]ValidationError{{
			Field:     "contract",
			ErrorType: "ContractNotFound",
			Message:   fmt.Sprintf("Contract '%s' not registered", contractName),
		}})
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(output), &fields); err != nil {
		return NewValidationFailure([]ValidationError{{
			Field:     "output",
			ErrorType: "InvalidJSON",
			Message:   fmt.Sprintf("Output from '%s' is not a JSON object: %v", contract.FromAgent, err),
		}})
	}

	var errors []ValidationError
	var warnings []string

	for _, field := range contract.Schema.RequiredFields {
		if _, exists := fields[field]; !exists {
			errors = append(errors, ValidationError{
				Field:     field,
				ErrorType: "MissingRequired",
				Message:   fmt.Sprintf("Required field '%s' is missing", field),
				Expected:  stringPtr("present"),
				Actual:    stringPtr("missing"),
			})
		}
	}

	for _, rule := range contract.Schema.ValidationRules {
		raw, exists := fields[rule.Field]
		if !exists {
			continue
		}
		value, ok := raw.(string)
		if !ok {
			errors = append(errors, ValidationError{
				Field:     rule.Field,
				ErrorType: "TypeMismatch",
				Message:   fmt.Sprintf("Field '%s' must be a string", rule.Field),
				Expected:  stringPtr("string"),
				Actual:    stringPtr(fmt.Sprintf("%T", raw)),
			})
			continue
		}
		verr, warning := applyRule(rule, value)
		if verr != nil {
			errors = append(errors, *verr)
		}
		if warning != "" {
			warnings = append(warnings, warning)
		}
	}

	if len(errors) == 0 {
		return NewValidationSuccess().WithWarnings(warnings)
	}
	return NewValidationFailure(errors).WithWarnings(warnings)
}

// applyRule checks one string field. A malformed constraint is a warning,
// not a failure of the output.
func applyRule(rule ValidationRule, value string) (*ValidationError, string) {
	switch rule.RuleType {
	case ValidationEnum:
		allowed := strings.Split(rule.Constraint, "|")
		for _, a := range allowed {
			if value == a {
				return nil, ""
			}
		}
		return &ValidationError{
			Field:     rule.Field,
			ErrorType: "NotInEnum",
			Message:   fmt.Sprintf("Field '%s' must be one of %s", rule.Field, strings.Join(allowed, ", ")),
			Expected:  stringPtr(rule.Constraint),
			Actual:    stringPtr(value),
		}, ""

	case ValidationMinLength, ValidationMaxLength:
		limit, err := strconv.Atoi(rule.Constraint)
		if err != nil {
			return nil, fmt.Sprintf("Ignoring %s rule on '%s': bad constraint %q", rule.RuleType, rule.Field, rule.Constraint)
		}
		n := utf8.RuneCountInString(value)
		if (rule.RuleType == ValidationMinLength && n < limit) || (rule.RuleType == ValidationMaxLength && n > limit) {
			return &ValidationError{
				Field:     rule.Field,
				ErrorType: string(rule.RuleType),
				Message:   fmt.Sprintf("Field '%s' has length %d, %s is %d", rule.Field, n, rule.RuleType, limit),
				Expected:  stringPtr(rule.Constraint),
				Actual:    stringPtr(strconv.Itoa(n)),
			}, ""
		}
		return nil, ""

	case ValidationPattern:
		re, err := regexp.Compile(rule.Constraint)
		if err != nil {
			return nil, fmt.Sprintf("Ignoring Pattern rule on '%s': %v", rule.Field, err)
		}
		if !re.MatchString(value) {
			return &ValidationError{
				Field:     rule.Field,
				ErrorType: "PatternMismatch",
				Message:   fmt.Sprintf("Field '%s' does not match %s", rule.Field, rule.Constraint),
				Expected:  stringPtr(rule.Constraint),
				Actual:    stringPtr(value),
			}, ""
		}
		return nil, ""

	default:
		return nil, fmt.Sprintf("Unknown rule type %q on '%s'", rule.RuleType, rule.Field)
	}
}

// extractObject returns the JSON object embedded in a model reply, or the
// reply unchanged when none is found.
func extractObject(reply string) string {
	if obj, err := jsonutil.ExtractObject(reply); err == nil {
		return obj
	}
	return reply
}
