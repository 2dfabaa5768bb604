// Package orchestration provides multi-agent coordination patterns:
// handoff tools, supervisors, a structured router and the context agent.
//
// Types used by routers and output validation.
package orchestration

// OutputSchema defines the schema for structured agent outputs.
type OutputSchema struct {
	SchemaVersion   string           `json:"schema_version"`
	RequiredFields  []string         `json:"required_fields"`
	ValidationRules []ValidationRule `json:"validation_rules"`
}

// ValidationRule defines a validation rule for output fields.
type ValidationRule struct {
	Field      string         `json:"field"`
	RuleType   ValidationType `json:"rule_type"`
	Constraint string         `json:"constraint"`
}

// ValidationType represents types of validation.
type ValidationType string

const (
	ValidationMinLength ValidationType = "MinLength"
	ValidationMaxLength ValidationType = "MaxLength"
	ValidationPattern   ValidationType = "Pattern"
	// ValidationEnum constraints list the allowed values separated by '|'.
	ValidationEnum ValidationType = "Enum"
)

// ValidationResult contains the result of validation with detailed feedback.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []string          `json:"warnings"`
}

// ValidationError contains validation error details.
type ValidationError struct {
	Field     string  `json:"field"`
	ErrorType string  `json:"error_type"`
	Message   string  `json:"message"`
	Expected  *string `json:"expected,omitempty"`
	Actual    *string `json:"actual,omitempty"`
}

// Error implements error.
func (e ValidationError) Error() string {
	return e.Message
}

// NewValidationSuccess creates a successful validation result.
func NewValidationSuccess() ValidationResult {
	return ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []string{},
	}
}

// NewValidationFailure creates a failed validation result.
func NewValidationFailure(errors []ValidationError) ValidationResult {
	return ValidationResult{
		Valid:    false,
		Errors:   errors,
		Warnings: []string{},
	}
}

// WithWarnings adds warnings to the validation result.
func (v ValidationResult) WithWarnings(warnings []string) ValidationResult {
	if warnings == nil {
		warnings = []string{}
	}
	v.Warnings = warnings
	return v
}

// HasFieldError reports whether validation failed on field.
func (v ValidationResult) HasFieldError(field string) bool {
	for _, e := range v.Errors {
		if e.Field == field {
			return true
		}
	}
	return false
}

func stringPtr(s string) *string {
	return &s
}
