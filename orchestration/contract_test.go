package orchestration

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func registerTestContract(c *Coordinator, rules ...ValidationRule) {
	c.RegisterContract("test_contract", Contract{
		FromAgent: "agent_a",
		ToAgent:   stringPtr("agent_b"),
		Schema: OutputSchema{
			SchemaVersion:   "1.0",
			RequiredFields:  []string{"name", "value"},
			ValidationRules: rules,
		},
	})
}

func TestContractValidationSuccess(t *testing.T) {
	coordinator := NewCoordinator()
	registerTestContract(coordinator)

	validation := coordinator.Validate("test_contract", `{"name": "a", "value": "b"}`)
	if !validation.Valid {
		t.Errorf("expected validation to pass, got errors: %v", validation.Errors)
	}
	if validation.Warnings == nil {
		t.Error("warnings should be an empty slice, not nil")
	}
}

func TestContractValidationMissingRequiredField(t *testing.T) {
	coordinator := NewCoordinator()
	registerTestContract(coordinator)

	validation := coordinator.Validate("test_contract", `{"name": "test"}`)
	if validation.Valid {
		t.Fatal("expected validation to fail for missing required field")
	}

	found := false
	for _, err := range validation.Errors {
		if err.Field == "value" && err.ErrorType == "MissingRequired" {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("expected MissingRequired error for 'value' field, got: %v", validation.Errors)
	}
}

func TestContractValidationContractNotFound(t *testing.T) {
	validation := NewCoordinator().Validate("nonexistent", `{}`)

	if validation.Valid {
		t.Fatal("expected validation to fail for nonexistent contract")
	}
	if validation.Errors[0].ErrorType != "ContractNotFound" {
		t.Errorf("expected ContractNotFound error, got: %s", validation.Errors[0].ErrorType)
	}
}

func TestContractValidationInvalidJSON(t *testing.T) {
	coordinator := NewCoordinator()
	registerTestContract(coordinator)

	validation := coordinator.Validate("test_contract", "just prose")
	if validation.Valid || validation.Errors[0].ErrorType != "InvalidJSON" {
		t.Errorf("expected InvalidJSON, got: %+v", validation)
	}
}

func TestContractValidationRules(t *testing.T) {
	tests := []struct {
		name      string
		rule      ValidationRule
		output    string
		wantValid bool
		wantType  string
	}{
		{"enum ok", ValidationRule{"name", ValidationEnum, "A|B"}, `{"name":"B","value":""}`, true, ""},
		{"enum bad", ValidationRule{"name", ValidationEnum, "A|B"}, `{"name":"C","value":""}`, false, "NotInEnum"},
		{"min ok", ValidationRule{"value", ValidationMinLength, "2"}, `{"name":"x","value":"ab"}`, true, ""},
		{"min bad", ValidationRule{"value", ValidationMinLength, "3"}, `{"name":"x","value":"ab"}`, false, "MinLength"},
		{"max counts runes", ValidationRule{"value", ValidationMaxLength, "2"}, `{"name":"x","value":"éé"}`, true, ""},
		{"max bad", ValidationRule{"value", ValidationMaxLength, "1"}, `{"name":"x","value":"ab"}`, false, "MaxLength"},
		{"pattern ok", ValidationRule{"value", ValidationPattern, `^\d+$`}, `{"name":"x","value":"42"}`, true, ""},
		{"pattern bad", ValidationRule{"value", ValidationPattern, `^\d+$`}, `{"name":"x","value":"4a"}`, false, "PatternMismatch"},
		{"type mismatch", ValidationRule{"value", ValidationEnum, "1"}, `{"name":"x","value":1}`, false, "TypeMismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coordinator := NewCoordinator()
			registerTestContract(coordinator, tt.rule)

			validation := coordinator.Validate("test_contract", tt.output)
			if validation.Valid != tt.wantValid {
				t.Fatalf("Valid = %v, want %v (errors %v)", validation.Valid, tt.wantValid, validation.Errors)
			}
			if !tt.wantValid && validation.Errors[0].ErrorType != tt.wantType {
				t.Errorf("ErrorType = %s, want %s", validation.Errors[0].ErrorType, tt.wantType)
			}
		})
	}
}

func TestContractMalformedConstraintWarns(t *testing.T) {
	coordinator := NewCoordinator()
	registerTestContract(coordinator,
		ValidationRule{"value", ValidationMaxLength, "many"},
		ValidationRule{"value", ValidationPattern, "("},
	)

	validation := coordinator.Validate("test_contract", `{"name":"x","value":"y"}`)
	if !validation.Valid {
		t.Fatalf("malformed constraints should not fail output: %v", validation.Errors)
	}
	if len(validation.Warnings) != 2 {
		t.Errorf("expected 2 warnings, got %v", validation.Warnings)
	}
}

func TestExtractObject(t *testing.T) {
	if got := extractObject("Sure:\n{\"a\":1}\nthanks"); got != `{"a":1}` {
		t.Errorf("extractObject = %q", got)
	}
	if got := extractObject("nothing"); got != "nothing" {
		t.Errorf("extractObject = %q", got)
	}
}
