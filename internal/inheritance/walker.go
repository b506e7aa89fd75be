// Package inheritance walks resource parent chains for callers that need the
// ancestor chain explicitly: debugging, audit views, or combination policies
// other than the ACL evaluator's built-in strict walk.
package inheritance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dhawalhost/gateseal/internal/cache"
	"github.com/dhawalhost/gateseal/internal/entityacl"
	"github.com/dhawalhost/gateseal/internal/permission"
)

// MaxDepth bounds every traversal so corrupted graph data cannot produce an
// unbounded walk. Exceeding it truncates with a warning rather than failing.
const MaxDepth = 100

// Pattern names how a resource's local permissions combine with its parent's.
type Pattern string

const (
	// PatternStrict intersects local with the ancestor's final set; a level
	// with no local matches adopts the ancestor's result.
	PatternStrict Pattern = "strict"
	// PatternOverride uses the local set alone, ignoring ancestors.
	PatternOverride Pattern = "override"
	// PatternUnion merges local with the ancestor's final set.
	PatternUnion Pattern = "union"
)

// Level is one resolved step of an inheritance chain.
type Level struct {
	ResourceID string                `json:"resource_id"`
	Local      permission.Permission `json:"local"`
	Inherited  permission.Permission `json:"inherited"`
	Final      permission.Permission `json:"final"`
	Pattern    Pattern               `json:"pattern"`
}

// Chain is the resolved inheritance chain for one principal at one resource,
// root first. It is a derived, cached value; recomputed on miss or
// invalidation, never hand-edited.
type Chain struct {
	ResourceID string                `json:"resource_id"`
	Levels     []Level               `json:"levels"`
	Final      permission.Permission `json:"final"`
	ComputedAt time.Time             `json:"computed_at"`
}

const (
	ancestorsKeyPrefix = "authz:ancestors:"
	chainKeyPrefix     = "authz:chain:"
)

// Walker resolves ancestor chains with caching.
type Walker struct {
	graph     entityacl.GraphProvider
	evaluator *entityacl.Evaluator
	cache     cache.Cache
	ttl       time.Duration
	logger    *zap.Logger
}

// NewWalker creates a walker. ttl governs how long cached ancestor lists and
// chains live; invalidation is per resource and there is no proactive
// descendant fan-out, so descendants may serve stale chains until their TTL
// lapses.
func NewWalker(graph entityacl.GraphProvider, evaluator *entityacl.Evaluator, c cache.Cache, ttl time.Duration, logger *zap.Logger) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Walker{graph: graph, evaluator: evaluator, cache: c, ttl: ttl, logger: logger}
}

// Ancestors returns the resource's ancestor ids ordered root first, not
// including the resource itself.
func (w *Walker) Ancestors(ctx context.Context, resourceID string) ([]string, error) {
	key := ancestorsKeyPrefix + resourceID
	if w.cache != nil {
		if data, ok, err := w.cache.Get(ctx, key); err == nil && ok {
			var ids []string
			if json.Unmarshal(data, &ids) == nil {
				return ids, nil
			}
		}
	}

	ids, err := w.walkUp(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	// Reverse into root-first order.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}

	if w.cache != nil {
		if data, err := json.Marshal(ids); err == nil {
			_ = w.cache.Set(ctx, key, data, w.ttl)
		}
	}
	return ids, nil
}

// walkUp collects ancestors nearest-first, bounded by MaxDepth.
func (w *Walker) walkUp(ctx context.Context, resourceID string) ([]string, error) {
	var ids []string
	visited := map[string]bool{resourceID: true}
	current := resourceID
	for depth := 0; ; depth++ {
		if depth >= MaxDepth {
			w.logger.Warn("ancestor walk exceeded depth bound, truncating",
				zap.String("resource_id", resourceID),
				zap.Int("depth", depth))
			return ids, nil
		}
		parent, ok, err := w.graph.Parent(ctx, current)
		if errors.Is(err, entityacl.ErrResourceNotFound) {
			if current != resourceID {
				w.logger.Warn("ancestor walk hit missing resource, treating as root",
					zap.String("resource_id", current))
				return ids, nil
			}
			return nil, err
		}
		if err != nil {
			return nil, fmt.Errorf("inheritance: parent lookup: %w", err)
		}
		if !ok {
			return ids, nil
		}
		if visited[parent] {
			w.logger.Warn("ancestor walk revisited a node, truncating",
				zap.String("resource_id", resourceID),
				zap.String("repeated", parent))
			return ids, nil
		}
		visited[parent] = true
		ids = append(ids, parent)
		current = parent
	}
}

// Resolve computes the inheritance chain for the principal at the resource
// under the given pattern, serving from cache when possible.
func (w *Walker) Resolve(ctx context.Context, resourceID, principalID, principalType string, pattern Pattern, now time.Time) (Chain, error) {
	key := fmt.Sprintf("%s%s:%s:%s", chainKeyPrefix, resourceID, principalID, pattern)
	if w.cache != nil {
		if data, ok, err := w.cache.Get(ctx, key); err == nil && ok {
			var chain Chain
			if json.Unmarshal(data, &chain) == nil {
				return chain, nil
			}
		}
	}

	ancestors, err := w.Ancestors(ctx, resourceID)
	if err != nil {
		return Chain{}, err
	}
	order := append(ancestors, resourceID)

	chain := Chain{ResourceID: resourceID, ComputedAt: now}
	var parentFinal permission.Permission
	for i, id := range order {
		local, matched, err := w.evaluator.EvaluateLocal(ctx, id, principalID, principalType, now)
		if err != nil {
			return Chain{}, err
		}

		level := Level{ResourceID: id, Local: local, Pattern: pattern}
		if i == 0 {
			level.Final = local
		} else {
			level.Inherited = parentFinal
			switch pattern {
			case PatternOverride:
				level.Final = local
			case PatternUnion:
				level.Final = local | parentFinal
			default: // strict
				if matched {
					level.Final = local & parentFinal
				} else {
					level.Final = parentFinal
				}
			}
		}
		chain.Levels = append(chain.Levels, level)
		parentFinal = level.Final
	}
	chain.Final = parentFinal

	if w.cache != nil {
		if data, err := json.Marshal(chain); err == nil {
			_ = w.cache.Set(ctx, key, data, w.ttl)
		}
	}
	return chain, nil
}

// IsCircular reports whether making candidateParentID the parent of childID
// would close a cycle: it walks up from the candidate and returns true if the
// walk reaches childID or revisits a node. Callers MUST run this check before
// persisting any new parent edge; it is the sole cycle-prevention mechanism.
func (w *Walker) IsCircular(ctx context.Context, childID, candidateParentID string) (bool, error) {
	if childID == candidateParentID {
		return true, nil
	}
	visited := map[string]bool{candidateParentID: true}
	current := candidateParentID
	for depth := 0; depth < MaxDepth; depth++ {
		parent, ok, err := w.graph.Parent(ctx, current)
		if errors.Is(err, entityacl.ErrResourceNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("inheritance: cycle check: %w", err)
		}
		if !ok {
			return false, nil
		}
		if parent == childID || visited[parent] {
			return true, nil
		}
		visited[parent] = true
		current = parent
	}
	// Depth exhaustion on a walk this deep is indistinguishable from
	// corruption; refuse the edge.
	return true, nil
}

// Invalidate evicts the resource's cached ancestor list and chains.
func (w *Walker) Invalidate(ctx context.Context, resourceID string) error {
	if w.cache == nil {
		return nil
	}
	if err := w.cache.Delete(ctx, ancestorsKeyPrefix+resourceID); err != nil {
		return err
	}
	return w.cache.DeletePrefix(ctx, chainKeyPrefix+resourceID+":")
}
