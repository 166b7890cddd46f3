package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
)

// Engine evaluates promotion gates against release metrics.
type Engine interface {
	AddGate(ctx context.Context, gate *Gate) error
	RemoveGate(name string) error
	GetGate(name string) (*Gate, error)
	ListGates() []*Gate

	Evaluate(ctx context.Context, input *GateInput) (*Decision, error)
	ValidateGate(ctx context.Context, gate *Gate) error
}

// OPAEngine implements Engine using Open Policy Agent.
type OPAEngine struct {
	mu    sync.RWMutex
	gates map[string]*Gate
	order []string
	store storage.Store
}

// NewOPAEngine creates an engine with no gates registered.
func NewOPAEngine() *OPAEngine {
	return &OPAEngine{
		gates: make(map[string]*Gate),
		store: inmem.New(),
	}
}

// Gate is a single promotion quality gate backed by a Rego rule.
// The rule's package name must equal Name and it must define both
// an `allow` boolean and an `actual` value for reporting.
type Gate struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Threshold   float64 `json:"threshold"`
	Rule        string  `json:"rule"`
}

// GateInput is the document the Rego rules evaluate against.
type GateInput struct {
	QualityScore  int     `json:"quality_score"`
	SecurityScore int     `json:"security_score"`
	TestCoverage  float64 `json:"test_coverage"`
	Outcome       string  `json:"outcome"`
	Degraded      bool    `json:"degraded"`
}

// GateResult is the outcome of a single gate.
type GateResult struct {
	Name      string  `json:"name"`
	Threshold float64 `json:"threshold"`
	Actual    float64 `json:"actual"`
	Passed    bool    `json:"passed"`
	Status    string  `json:"status"`
}

// Decision aggregates all gate results.
type Decision struct {
	Gates         []GateResult `json:"gates"`
	OverallStatus string       `json:"overall_status"`
	PassedCount   int          `json:"passed_count"`
	TotalCount    int          `json:"total_count"`
}

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
)

// AddGate registers a gate after validating its Rego rule.
func (e *OPAEngine) AddGate(ctx context.Context, gate *Gate) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.gates[gate.Name]; exists {
		return fmt.Errorf("gate %s already registered", gate.Name)
	}
	if err := e.validateRule(ctx, gate); err != nil {
		return fmt.Errorf("gate validation failed: %w", err)
	}
	e.gates[gate.Name] = gate
	e.order = append(e.order, gate.Name)
	return nil
}

// RemoveGate unregisters a gate.
func (e *OPAEngine) RemoveGate(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.gates[name]; !exists {
		return fmt.Errorf("gate %s not found", name)
	}
	delete(e.gates, name)
	for i, n := range e.order {
		if n == name {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return nil
}

// GetGate retrieves a gate by name.
func (e *OPAEngine) GetGate(name string) (*Gate, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	gate, exists := e.gates[name]
	if !exists {
		return nil, fmt.Errorf("gate %s not found", name)
	}
	return gate, nil
}

// ListGates returns all gates in registration order.
func (e *OPAEngine) ListGates() []*Gate {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Gate, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, e.gates[name])
	}
	return out
}

// ValidateGate validates a gate's Rego rule without registering it.
func (e *OPAEngine) ValidateGate(ctx context.Context, gate *Gate) error {
	return e.validateRule(ctx, gate)
}

func (e *OPAEngine) validateRule(ctx context.Context, gate *Gate) error {
	r := rego.New(
		rego.Query("data."+gate.Name),
		rego.Module(gate.Name+".rego", gate.Rule),
	)
	if _, err := r.PrepareForEval(ctx); err != nil {
		return fmt.Errorf("invalid Rego rule %s: %w", gate.Name, err)
	}
	return nil
}

// Evaluate runs every registered gate against the input and aggregates
// the results. The overall status is PASS only when all gates pass.
func (e *OPAEngine) Evaluate(ctx context.Context, input *GateInput) (*Decision, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	doc := map[string]interface{}{
		"quality_score":  input.QualityScore,
		"security_score": input.SecurityScore,
		"test_coverage":  input.TestCoverage,
		"outcome":        input.Outcome,
		"degraded":       input.Degraded,
	}

	decision := &Decision{
		Gates:      make([]GateResult, 0, len(e.order)),
		TotalCount: len(e.order),
	}

	for _, name := range e.order {
		gate := e.gates[name]
		result, err := e.evaluateGate(ctx, gate, doc)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate gate %s: %w", name, err)
		}
		if result.Passed {
			decision.PassedCount++
		}
		decision.Gates = append(decision.Gates, *result)
	}

	decision.OverallStatus = StatusFail
	if decision.PassedCount == decision.TotalCount {
		decision.OverallStatus = StatusPass
	}
	return decision, nil
}

func (e *OPAEngine) evaluateGate(ctx context.Context, gate *Gate, input map[string]interface{}) (*GateResult, error) {
	result := &GateResult{
		Name:      gate.Name,
		Threshold: gate.Threshold,
		Status:    StatusFail,
	}

	for _, query := range []string{"allow", "actual"} {
		r := rego.New(
			rego.Query(fmt.Sprintf("data.%s.%s", gate.Name, query)),
			rego.Module(gate.Name+".rego", gate.Rule),
			rego.Input(input),
			rego.Store(e.store),
		)

		rs, err := r.Eval(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate %s.%s: %w", gate.Name, query, err)
		}

		for _, evalResult := range rs {
			for _, expr := range evalResult.Expressions {
				if expr.Value == nil {
					continue
				}
				switch query {
				case "allow":
					if passed, ok := expr.Value.(bool); ok {
						result.Passed = passed
					}
				case "actual":
					result.Actual = extractNumber(expr.Value)
				}
			}
		}
	}

	if result.Passed {
		result.Status = StatusPass
	}
	return result, nil
}

// extractNumber handles the number types OPA may return.
func extractNumber(value interface{}) float64 {
	switch v := value.(type) {
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
