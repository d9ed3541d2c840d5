package rules

import "fmt"

// Configuration is the type-specific payload attached to a rule,
// e.g. {"amount": 100} for min_order_total.
type Configuration map[string]any

// Rule is a typed condition attached to a goal
type Rule struct {
	Type          string        `json:"type"`
	Configuration Configuration `json:"configuration,omitempty"`
}

// Outcome is the result of checking one rule against one subject
type Outcome int

const (
	// NotApplicable means the checker cannot interpret the subject; the rule is skipped
	NotApplicable Outcome = iota
	// Eligible means the rule's condition holds for the subject
	Eligible
	// Ineligible means the rule applies and its condition does not hold
	Ineligible
)

func (o Outcome) String() string {
	switch o {
	case Eligible:
		return "eligible"
	case Ineligible:
		return "ineligible"
	default:
		return "not_applicable"
	}
}

// MarshalText renders the outcome by name in JSON responses
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText parses an outcome name
func (o *Outcome) UnmarshalText(text []byte) error {
	switch string(text) {
	case "eligible":
		*o = Eligible
	case "ineligible":
		*o = Ineligible
	case "not_applicable":
		*o = NotApplicable
	default:
		return fmt.Errorf("unknown outcome %q", text)
	}
	return nil
}

// Checker evaluates rules of a single type.
//
// Supports is a cheap pre-check on the subject's type. IsEligible is only
// called for supported subjects; it may still answer NotApplicable (or return
// ErrUnsupportedSubject) when it finds out mid-evaluation that it cannot
// handle the subject. Any other error is a configuration problem.
type Checker interface {
	Supports(subject any) bool
	IsEligible(subject any, config Configuration) (Outcome, error)
}

// CheckerFunc adapts a plain function to a Checker that supports every subject
type CheckerFunc func(subject any, config Configuration) (Outcome, error)

// Supports always returns true
func (f CheckerFunc) Supports(any) bool { return true }

// IsEligible calls f
func (f CheckerFunc) IsEligible(subject any, config Configuration) (Outcome, error) {
	return f(subject, config)
}
