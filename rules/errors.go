package rules

import "errors"

var (
	// ErrUnknownRuleType indicates no checker is registered for a rule's type.
	// It is a configuration error and is always propagated to the caller.
	ErrUnknownRuleType = errors.New("unknown rule type")

	// ErrUnsupportedSubject lets a checker report that the subject is not one
	// it can evaluate. Evaluation treats it as NotApplicable.
	ErrUnsupportedSubject = errors.New("unsupported subject type")

	// ErrInvalidConfiguration indicates a rule's configuration payload is malformed.
	ErrInvalidConfiguration = errors.New("invalid rule configuration")
)
