package security

import "fmt"

const (
	defaultMinPasswordLength   = 10
	defaultMinCharacterClasses = 3
	defaultMinZxcvbnScore      = 3
)

// DefaultPasswordValidator returns the built-in validator enforcing the portal
// password policy with length, character class, and zxcvbn strength checks.
func DefaultPasswordValidator() *PasswordValidator {
	return NewPasswordValidator(
		MinLengthRule(defaultMinPasswordLength),
		RequireCharacterClassesRule(defaultMinCharacterClasses),
		RequirePasswordStrengthRule(defaultMinZxcvbnScore),
	)
}

// PasswordPolicy adapts the rule-based validator to port.PasswordPolicyValidator,
// threading contextual user inputs (portal id, tenant) into the strength check.
type PasswordPolicy struct{}

// NewPasswordPolicy builds the default policy.
func NewPasswordPolicy() *PasswordPolicy {
	return &PasswordPolicy{}
}

// Validate applies the configured rules to the candidate password.
func (p *PasswordPolicy) Validate(password string, userInputs ...string) error {
	if p == nil {
		return fmt.Errorf("password policy not configured")
	}

	inputs := make([]string, 0, len(userInputs))
	for _, input := range userInputs {
		if input != "" {
			inputs = append(inputs, input)
		}
	}

	validator := NewPasswordValidator(
		MinLengthRule(defaultMinPasswordLength),
		RequireCharacterClassesRule(defaultMinCharacterClasses),
		RequirePasswordStrengthRule(defaultMinZxcvbnScore, inputs...),
	)
	return validator.Validate(password)
}
