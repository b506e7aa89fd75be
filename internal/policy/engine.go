package policy

import (
	"context"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Engine evaluates attribute-based policy rules.
type Engine interface {
	Evaluate(ctx context.Context, rules []Rule, pctx Context) Decision
}

type engine struct {
	conditions ConditionEvaluator
	logger     *zap.Logger
	condErrors prometheus.Counter
}

// NewEngine creates a policy engine. condErrors may be nil; when set it is
// incremented for every condition that fails to parse or evaluate, which is
// the monitoring signal for broken deny rules silently degrading to
// non-matching.
func NewEngine(conditions ConditionEvaluator, logger *zap.Logger, condErrors prometheus.Counter) Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &engine{conditions: conditions, logger: logger, condErrors: condErrors}
}

// Evaluate runs every enabled rule against the context, lowest priority
// number first. All matching rules contribute to the decision. A condition
// that errors is treated as non-matching: fail-closed for allow rules,
// fail-open-to-non-denial for deny rules.
func (e *engine) Evaluate(_ context.Context, rules []Rule, pctx Context) Decision {
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	attrs := pctx.attrs()

	var d Decision
	for _, r := range ordered {
		if !r.Enabled {
			continue
		}
		matched, err := e.conditions.Evaluate(r.Condition, attrs)
		if err != nil {
			if e.condErrors != nil {
				e.condErrors.Inc()
			}
			e.logger.Warn("policy condition failed to evaluate, treating rule as non-matching",
				zap.String("rule_id", r.ID),
				zap.String("effect", string(r.Effect)),
				zap.Error(err))
			continue
		}
		if !matched {
			continue
		}
		switch r.Effect {
		case EffectAllow:
			d.Granted |= r.Grants
		case EffectDeny:
			d.Denied |= r.Denies
		}
		d.Matched = append(d.Matched, r.ID)
	}
	return d
}
