package rules

import (
	"errors"
	"sync"
	"testing"

	"github.com/liamcoop/affiliate/domain"
)

func TestExpressionChecker(t *testing.T) {
	checker := NewExpressionChecker()
	vip := &domain.Customer{ID: "c-1", Group: "vip", OrderCount: 3}

	testCases := []struct {
		name       string
		expression string
		subject    any
		want       Outcome
	}{
		{"order total match", `order.total >= 100.0`, &domain.Order{Total: 120}, Eligible},
		{"order total miss", `order.total >= 100.0`, &domain.Order{Total: 20}, Ineligible},
		{"order with customer", `order.total > 10.0 && customer.group == "vip"`, &domain.Order{Total: 20, Customer: vip}, Eligible},
		{"customer facts", `customer.orderCount >= 3`, vip, Eligible},
		{"affiliate facts", `affiliate.referred`, &domain.Affiliate{ID: "a-1"}, Ineligible},
		{"unbound variable", `order.total > 10.0`, vip, NotApplicable},
		{"guest order needs customer", `customer.group == "vip"`, &domain.Order{Total: 20}, NotApplicable},
		{"short circuit on bound false", `order.total > 1000.0 && customer.group == "vip"`, &domain.Order{Total: 20}, Ineligible},
		{"non boolean result", `order.total`, &domain.Order{Total: 20}, Ineligible},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := checker.IsEligible(tc.subject, Configuration{"expression": tc.expression})
			if err != nil {
				t.Fatalf("IsEligible(%q) failed: %v", tc.expression, err)
			}
			if got != tc.want {
				t.Errorf("IsEligible(%q) = %v, want %v", tc.expression, got, tc.want)
			}
		})
	}
}

func TestExpressionCheckerSupports(t *testing.T) {
	checker := NewExpressionChecker()

	if !checker.Supports(&domain.Order{}) {
		t.Error("Supports(order) = false, want true")
	}
	if checker.Supports("plain string") {
		t.Error("Supports(string) = true, want false")
	}
}

func TestExpressionCheckerCompileError(t *testing.T) {
	checker := NewExpressionChecker()

	_, err := checker.IsEligible(&domain.Order{}, Configuration{"expression": `order.total >`})
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("IsEligible() error = %v, want ErrInvalidConfiguration", err)
	}
}

func TestExpressionCheckerCachesPrograms(t *testing.T) {
	checker := NewExpressionChecker()
	config := Configuration{"expression": `order.total > 1.0`}

	for i := 0; i < 3; i++ {
		if _, err := checker.IsEligible(&domain.Order{Total: 2}, config); err != nil {
			t.Fatalf("IsEligible() failed: %v", err)
		}
	}

	checker.mu.RLock()
	defer checker.mu.RUnlock()
	if len(checker.programs) != 1 {
		t.Errorf("cached programs = %d, want 1", len(checker.programs))
	}
}

func TestExpressionCheckerConcurrentEvaluation(t *testing.T) {
	checker := NewExpressionChecker()
	expressions := []string{`order.total > 1.0`, `order.total > 2.0`, `order.total > 3.0`}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			config := Configuration{"expression": expressions[i%len(expressions)]}
			if _, err := checker.IsEligible(&domain.Order{Total: float64(i)}, config); err != nil {
				t.Errorf("IsEligible() failed: %v", err)
			}
		}(i)
	}
	wg.Wait()
}
