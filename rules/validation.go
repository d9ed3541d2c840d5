package rules

import (
	"fmt"
	"regexp"
)

const (
	maxIdentifierLength = 100
	// MaxRulesPerGoal caps the rule set attached to a single goal
	MaxRulesPerGoal = 100
)

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidateRules checks a goal's rule set against the registry.
// Every rule type must be registered, and checkers that implement
// ConfigValidator get to vet their configuration.
func ValidateRules(registry *Registry, ruleSet []Rule) error {
	if len(ruleSet) > MaxRulesPerGoal {
		return fmt.Errorf("goal has %d rules, maximum allowed is %d", len(ruleSet), MaxRulesPerGoal)
	}

	for i, rule := range ruleSet {
		if err := validateIdentifier(rule.Type); err != nil {
			return fmt.Errorf("rule %d: invalid type %q: %w", i, rule.Type, err)
		}

		checker, err := registry.Get(rule.Type)
		if err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}

		if v, ok := checker.(ConfigValidator); ok {
			if err := v.ValidateConfiguration(rule.Configuration); err != nil {
				return fmt.Errorf("rule %d (%s): %w", i, rule.Type, err)
			}
		}
	}

	return nil
}

// validateIdentifier checks a rule type identifier: lower-case letters,
// digits and underscores, not starting with a digit, 1-100 characters.
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > maxIdentifierLength {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(name), maxIdentifierLength)
	}

	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must match pattern %s (lower-case letters, digits and underscores, not starting with a digit)", identifierPattern)
	}

	return nil
}
