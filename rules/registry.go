package rules

import (
	"fmt"
	"sort"
)

// Built-in rule type identifiers
const (
	TypeMinOrderTotal = "min_order_total"
	TypeNthOrder      = "nth_order"
	TypeCustomerGroup = "customer_group"
	TypeAffiliate     = "affiliate"
	TypeExpression    = "expression"
)

// Registry maps rule type identifiers to checkers.
// It is filled once by NewRegistry and never mutated afterwards, so it is
// safe for concurrent use without locking.
type Registry struct {
	checkers map[string]Checker
}

// NewRegistry builds a registry from the given checkers.
// Type identifiers must be valid identifiers and checkers must be non-nil.
func NewRegistry(checkers map[string]Checker) (*Registry, error) {
	r := &Registry{checkers: make(map[string]Checker, len(checkers))}

	for typeID, checker := range checkers {
		if err := validateIdentifier(typeID); err != nil {
			return nil, fmt.Errorf("invalid rule type %q: %w", typeID, err)
		}
		if checker == nil {
			return nil, fmt.Errorf("rule type %q has no checker", typeID)
		}
		r.checkers[typeID] = checker
	}

	return r, nil
}

// DefaultRegistry returns a registry with every built-in checker
func DefaultRegistry() *Registry {
	r, err := NewRegistry(map[string]Checker{
		TypeMinOrderTotal: MinOrderTotalChecker{},
		TypeNthOrder:      NthOrderChecker{},
		TypeCustomerGroup: CustomerGroupChecker{},
		TypeAffiliate:     AffiliateChecker{},
		TypeExpression:    NewExpressionChecker(),
	})
	if err != nil {
		// built-in identifiers are constants; reaching this is a programming error
		panic(err)
	}
	return r
}

// Get returns the checker registered for typeID
func (r *Registry) Get(typeID string) (Checker, error) {
	checker, ok := r.checkers[typeID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRuleType, typeID)
	}
	return checker, nil
}

// Types returns the registered identifiers in sorted order
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.checkers))
	for typeID := range r.checkers {
		types = append(types, typeID)
	}
	sort.Strings(types)
	return types
}
