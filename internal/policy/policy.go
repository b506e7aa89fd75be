package policy

import (
	"time"

	"github.com/dhawalhost/gateseal/internal/permission"
)

// Effect is the outcome a rule contributes when its condition matches.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Rule is a single attribute-based policy rule. Rules are evaluated in
// ascending Priority order and every matching rule contributes; there is no
// first-match short circuit.
type Rule struct {
	ID        string                `json:"id"`
	Condition string                `json:"condition"`
	Effect    Effect                `json:"effect"`
	Grants    permission.Permission `json:"grants,omitempty"`
	Denies    permission.Permission `json:"denies,omitempty"`
	Priority  int                   `json:"priority"`
	Enabled   bool                  `json:"enabled"`
}

// Context carries the attributes a condition is evaluated against.
type Context struct {
	PrincipalID   string
	PrincipalType string
	ResourceID    string
	ResourceType  string
	Permission    permission.Permission
	Attributes    map[string]interface{}
	Now           time.Time
}

// attrs renders the context as the nested attribute document handed to the
// condition evaluator. Caller-supplied Attributes sit at the top level and
// cannot shadow the reserved principal/resource/request keys.
func (c Context) attrs() map[string]interface{} {
	m := make(map[string]interface{}, len(c.Attributes)+3)
	for k, v := range c.Attributes {
		m[k] = v
	}
	m["principal"] = map[string]interface{}{
		"id":   c.PrincipalID,
		"type": c.PrincipalType,
	}
	m["resource"] = map[string]interface{}{
		"id":   c.ResourceID,
		"type": c.ResourceType,
	}
	m["request"] = map[string]interface{}{
		"permission": c.Permission.String(),
		"time":       c.Now.Format(time.RFC3339),
		"hour":       c.Now.Hour(),
		"weekday":    c.Now.Weekday().String(),
	}
	return m
}

// ConditionEvaluator decides whether a condition expression holds for a set
// of attributes. The expression grammar is whatever the implementation
// understands; the engine relies only on the boolean contract.
type ConditionEvaluator interface {
	Evaluate(condition string, attrs map[string]interface{}) (bool, error)
}

// Decision is the aggregate contribution of all matched rules.
type Decision struct {
	Granted permission.Permission
	Denied  permission.Permission
	Matched []string
}
