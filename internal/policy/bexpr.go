package policy

import (
	"sync"

	"github.com/hashicorp/go-bexpr"
)

// BexprEvaluator implements ConditionEvaluator with hashicorp/go-bexpr
// boolean expressions, e.g. `principal.type == "user" and request.hour >= 9`.
// Compiled evaluators are cached per condition string.
type BexprEvaluator struct {
	mu       sync.RWMutex
	compiled map[string]*bexpr.Evaluator
	maxCache int
}

// NewBexprEvaluator returns a bexpr-backed condition evaluator.
func NewBexprEvaluator() *BexprEvaluator {
	return &BexprEvaluator{
		compiled: make(map[string]*bexpr.Evaluator),
		maxCache: 1024,
	}
}

func (b *BexprEvaluator) Evaluate(condition string, attrs map[string]interface{}) (bool, error) {
	eval, err := b.evaluator(condition)
	if err != nil {
		return false, err
	}
	return eval.Evaluate(attrs)
}

func (b *BexprEvaluator) evaluator(condition string) (*bexpr.Evaluator, error) {
	b.mu.RLock()
	eval, ok := b.compiled[condition]
	b.mu.RUnlock()
	if ok {
		return eval, nil
	}

	eval, err := bexpr.CreateEvaluator(condition)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if len(b.compiled) >= b.maxCache {
		// Unbounded growth guard; compiled expressions are cheap to rebuild.
		b.compiled = make(map[string]*bexpr.Evaluator)
	}
	b.compiled[condition] = eval
	b.mu.Unlock()
	return eval, nil
}
