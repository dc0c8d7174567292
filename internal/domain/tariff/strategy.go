package tariff

import (
	"context"
	"fmt"
)

// DisciplineStrategy is one discipline's rule set. Supports decides
// eligibility from the claim context; Calculate runs the rules and
// never fails for data-quality reasons, only records trace entries.
type DisciplineStrategy interface {
	Supports(cc *ClaimContext) bool
	Calculate(ctx context.Context, cc *ClaimContext) *CalculationResult
}

// NoStrategyError is returned when no registered strategy supports the
// claim's discipline. It is terminal for the request.
type NoStrategyError struct {
	Discipline string
}

func (e *NoStrategyError) Error() string {
	return fmt.Sprintf("no strategy found for discipline: %s", e.Discipline)
}

// Registry holds discipline strategies in registration order. Adding a
// discipline means registering another strategy; the selector does not
// change.
type Registry struct {
	strategies []DisciplineStrategy
}

func NewRegistry(strategies ...DisciplineStrategy) *Registry {
	return &Registry{strategies: strategies}
}

func (r *Registry) Register(s DisciplineStrategy) {
	r.strategies = append(r.strategies, s)
}

// Select returns the first strategy that supports the claim.
func (r *Registry) Select(cc *ClaimContext) (DisciplineStrategy, error) {
	for _, s := range r.strategies {
		if s.Supports(cc) {
			return s, nil
		}
	}
	return nil, &NoStrategyError{Discipline: cc.Discipline}
}
