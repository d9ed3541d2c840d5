package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"github.com/liamcoop/affiliate/domain"
)

// ConfigValidator is implemented by checkers that can reject a malformed
// configuration before a rule is stored.
type ConfigValidator interface {
	ValidateConfiguration(config Configuration) error
}

// MinOrderTotalChecker accepts orders whose total reaches config["amount"]
type MinOrderTotalChecker struct{}

func (MinOrderTotalChecker) Supports(subject any) bool {
	_, ok := subject.(*domain.Order)
	return ok
}

func (c MinOrderTotalChecker) IsEligible(subject any, config Configuration) (Outcome, error) {
	order, ok := subject.(*domain.Order)
	if !ok {
		return NotApplicable, ErrUnsupportedSubject
	}

	amount, err := numberOption(config, "amount")
	if err != nil {
		return NotApplicable, err
	}

	if order.Total >= amount {
		return Eligible, nil
	}
	return Ineligible, nil
}

func (MinOrderTotalChecker) ValidateConfiguration(config Configuration) error {
	_, err := numberOption(config, "amount")
	return err
}

// NthOrderChecker accepts an order when it is its customer's nth order.
// Orders with an unknown sequence are not applicable.
type NthOrderChecker struct{}

func (NthOrderChecker) Supports(subject any) bool {
	_, ok := subject.(*domain.Order)
	return ok
}

func (NthOrderChecker) IsEligible(subject any, config Configuration) (Outcome, error) {
	order, ok := subject.(*domain.Order)
	if !ok {
		return NotApplicable, ErrUnsupportedSubject
	}

	nth, err := intOption(config, "nth")
	if err != nil {
		return NotApplicable, err
	}

	if order.Sequence == 0 {
		return NotApplicable, nil
	}
	if order.Sequence == nth {
		return Eligible, nil
	}
	return Ineligible, nil
}

func (NthOrderChecker) ValidateConfiguration(config Configuration) error {
	nth, err := intOption(config, "nth")
	if err != nil {
		return err
	}
	if nth < 1 {
		return fmt.Errorf("%w: nth must be at least 1", ErrInvalidConfiguration)
	}
	return nil
}

// CustomerGroupChecker accepts customers (or orders placed by customers)
// whose group is listed in config["groups"].
type CustomerGroupChecker struct{}

func (CustomerGroupChecker) Supports(subject any) bool {
	switch subject.(type) {
	case *domain.Customer, *domain.Order:
		return true
	}
	return false
}

func (CustomerGroupChecker) IsEligible(subject any, config Configuration) (Outcome, error) {
	var customer *domain.Customer
	switch s := subject.(type) {
	case *domain.Customer:
		customer = s
	case *domain.Order:
		customer = s.Customer
	default:
		return NotApplicable, ErrUnsupportedSubject
	}

	groups, err := stringsOption(config, "groups")
	if err != nil {
		return NotApplicable, err
	}

	// guest orders carry no customer to check
	if customer == nil {
		return NotApplicable, nil
	}

	if slices.Contains(groups, customer.Group) {
		return Eligible, nil
	}
	return Ineligible, nil
}

func (CustomerGroupChecker) ValidateConfiguration(config Configuration) error {
	_, err := stringsOption(config, "groups")
	return err
}

// AffiliateChecker restricts a goal to the affiliates listed in
// config["affiliates"].
type AffiliateChecker struct{}

func (AffiliateChecker) Supports(subject any) bool {
	_, ok := subject.(*domain.Affiliate)
	return ok
}

func (AffiliateChecker) IsEligible(subject any, config Configuration) (Outcome, error) {
	affiliate, ok := subject.(*domain.Affiliate)
	if !ok {
		return NotApplicable, ErrUnsupportedSubject
	}

	ids, err := stringsOption(config, "affiliates")
	if err != nil {
		return NotApplicable, err
	}

	if slices.Contains(ids, affiliate.ID) {
		return Eligible, nil
	}
	return Ineligible, nil
}

func (AffiliateChecker) ValidateConfiguration(config Configuration) error {
	_, err := stringsOption(config, "affiliates")
	return err
}

// numberOption reads a numeric option. JSON decoding yields float64, but
// configurations built in code may carry ints.
func numberOption(config Configuration, key string) (float64, error) {
	raw, ok := config[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalidConfiguration, key)
	}

	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidConfiguration, key)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %q must be a number, got %T", ErrInvalidConfiguration, key, raw)
	}
}

func intOption(config Configuration, key string) (int, error) {
	f, err := numberOption(config, key)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %q must be an integer", ErrInvalidConfiguration, key)
	}
	return int(f), nil
}

func stringsOption(config Configuration, key string) ([]string, error) {
	raw, ok := config[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", ErrInvalidConfiguration, key)
	}

	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %q must contain strings, got %T", ErrInvalidConfiguration, key, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q must be a list of strings, got %T", ErrInvalidConfiguration, key, raw)
	}
}
