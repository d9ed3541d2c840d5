package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/liamcoop/affiliate/domain"
)

// Variables an expression can reference. A subject only binds the ones its
// Facts() returns; the rest are unknown during evaluation.
var expressionVariables = []string{"order", "customer", "affiliate"}

// expressionCostLimit bounds the work a single expression may do
const expressionCostLimit = 1000000

// ExpressionChecker evaluates CEL expressions stored in config["expression"]
// against a subject's facts. Compiled programs are cached per expression
// source, so an expression shared by many goals is compiled once.
type ExpressionChecker struct {
	env      *cel.Env
	programs map[string]cel.Program // expression source -> compiled program
	mu       sync.RWMutex
}

// NewExpressionChecker creates a checker with the default environment
func NewExpressionChecker() *ExpressionChecker {
	opts := make([]cel.EnvOption, 0, len(expressionVariables))
	for _, name := range expressionVariables {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		// the declarations above are static
		panic(fmt.Sprintf("failed to create CEL environment: %v", err))
	}

	return &ExpressionChecker{
		env:      env,
		programs: make(map[string]cel.Program),
	}
}

// Supports reports whether the subject exposes facts
func (c *ExpressionChecker) Supports(subject any) bool {
	_, ok := subject.(domain.FactProvider)
	return ok
}

// IsEligible evaluates the expression. A result that depends on a variable
// the subject does not bind is NotApplicable; non-boolean results are
// Ineligible.
func (c *ExpressionChecker) IsEligible(subject any, config Configuration) (Outcome, error) {
	provider, ok := subject.(domain.FactProvider)
	if !ok {
		return NotApplicable, ErrUnsupportedSubject
	}

	prog, err := c.program(config)
	if err != nil {
		return NotApplicable, err
	}

	facts := provider.Facts()
	var unknowns []*cel.AttributePatternType
	for _, name := range expressionVariables {
		if _, bound := facts[name]; !bound {
			unknowns = append(unknowns, cel.AttributePattern(name))
		}
	}

	activation, err := cel.PartialVars(facts, unknowns...)
	if err != nil {
		return NotApplicable, fmt.Errorf("failed to build activation: %w", err)
	}

	out, _, err := prog.Eval(activation)
	if err != nil {
		return NotApplicable, fmt.Errorf("%w: evaluation error: %v", ErrInvalidConfiguration, err)
	}

	if types.IsUnknown(out) {
		return NotApplicable, nil
	}

	if matched, ok := out.Value().(bool); ok && matched {
		return Eligible, nil
	}
	return Ineligible, nil
}

// ValidateConfiguration compiles the expression so that broken expressions
// are rejected when the goal is saved, not when it is evaluated.
func (c *ExpressionChecker) ValidateConfiguration(config Configuration) error {
	_, err := c.program(config)
	return err
}

// program returns the cached program for the configured expression,
// compiling it on first use.
func (c *ExpressionChecker) program(config Configuration) (cel.Program, error) {
	source, ok := config["expression"].(string)
	if !ok || source == "" {
		return nil, fmt.Errorf("%w: \"expression\" must be a non-empty string", ErrInvalidConfiguration)
	}

	c.mu.RLock()
	prog, exists := c.programs[source]
	c.mu.RUnlock()
	if exists {
		return prog, nil
	}

	ast, issues := c.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: compile error: %v", ErrInvalidConfiguration, issues.Err())
	}

	prog, err := c.env.Program(ast,
		cel.EvalOptions(cel.OptPartialEval),
		cel.CostLimit(expressionCostLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: program creation error: %v", ErrInvalidConfiguration, err)
	}

	c.mu.Lock()
	c.programs[source] = prog
	c.mu.Unlock()

	return prog, nil
}
