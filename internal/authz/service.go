// Package authz orchestrates the layered authorization pipeline: admin
// bypass, license gate, RBAC, ACL with inheritance, ABAC, and deny-wins
// aggregation, with a TTL decision cache in front.
package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dhawalhost/gateseal/internal/audit"
	"github.com/dhawalhost/gateseal/internal/cache"
	"github.com/dhawalhost/gateseal/internal/entityacl"
	"github.com/dhawalhost/gateseal/internal/inheritance"
	"github.com/dhawalhost/gateseal/internal/license"
	"github.com/dhawalhost/gateseal/internal/permission"
	"github.com/dhawalhost/gateseal/internal/policy"
	"github.com/dhawalhost/gateseal/internal/role"
	"github.com/dhawalhost/gateseal/pkg/observability"
)

const (
	decisionKeyPrefix  = "authz:decision:"
	principalEpochKey  = "authz:epoch:principal:"
	resourceEpochKey   = "authz:epoch:resource:"
	defaultDecisionTTL = 5 * time.Minute
)

// Options configures a Service.
type Options struct {
	// DecisionTTL bounds how long decisions are served from cache.
	DecisionTTL time.Duration
	// LicenseFeature is the feature name checked against the license tier.
	LicenseFeature string
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Service is the authorization engine facade consumed by the application
// layer and by the (external) role/ACL management components.
type Service struct {
	registry *role.Registry
	acl      *entityacl.Evaluator
	walker   *inheritance.Walker
	engine   policy.Engine
	license  license.Checker
	cache    cache.Cache
	recorder *audit.Recorder
	metrics  *observability.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer

	ttl     time.Duration
	feature string
	now     func() time.Time
}

// NewService wires the evaluation layers together. cache, recorder and
// metrics may be nil; the corresponding concern is skipped.
func NewService(
	registry *role.Registry,
	aclEval *entityacl.Evaluator,
	walker *inheritance.Walker,
	engine policy.Engine,
	lic license.Checker,
	c cache.Cache,
	recorder *audit.Recorder,
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts Options,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DecisionTTL <= 0 {
		opts.DecisionTTL = defaultDecisionTTL
	}
	if opts.LicenseFeature == "" {
		opts.LicenseFeature = "authorization"
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		registry: registry,
		acl:      aclEval,
		walker:   walker,
		engine:   engine,
		license:  lic,
		cache:    c,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger,
		tracer:   observability.Tracer("gateseal/authz"),
		ttl:      opts.DecisionTTL,
		feature:  opts.LicenseFeature,
		now:      opts.Now,
	}
}

// Authorize runs the full decision pipeline for one request. Denials are
// expressed on the Result; a non-nil error reports an external collaborator
// failure, accompanied by a conservative denial.
func (s *Service) Authorize(ctx context.Context, req Request) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "authz.Authorize")
	defer span.End()
	span.SetAttributes(
		attribute.String("authz.principal_id", req.PrincipalID),
		attribute.String("authz.permission", req.Permission.String()),
	)

	if req.PrincipalType == "" {
		req.PrincipalType = entityacl.PrincipalTypeUser
	}
	start := s.now()

	// Attribute-carrying requests are condition-dependent and never cached;
	// the decision key covers principal, permission and resource only.
	cacheable := s.cache != nil && len(req.Attributes) == 0

	var key string
	if cacheable {
		key = s.decisionKey(ctx, req)
	}
	if cacheable && !req.BypassCache {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var cached Result
			if json.Unmarshal(data, &cached) == nil {
				cached.FromCache = true
				if s.metrics != nil {
					s.metrics.CacheHits.Inc()
				}
				s.observe(cached, start, true)
				return cached, nil
			}
		}
		if s.metrics != nil {
			s.metrics.CacheMisses.Inc()
		}
	}

	result, err := s.evaluate(ctx, req, start)
	result.EvaluatedAt = start
	result.Duration = s.now().Sub(start)

	if err == nil && cacheable {
		if data, marshalErr := json.Marshal(result); marshalErr == nil {
			_ = s.cache.Set(ctx, key, data, s.ttl)
		}
	}

	s.audit(req, result)
	s.observe(result, start, false)
	return result, err
}

// evaluate is the uncached pipeline.
func (s *Service) evaluate(ctx context.Context, req Request, now time.Time) (Result, error) {
	effective, err := s.registry.EffectivePermissions(ctx, req.PrincipalID, now)
	if err != nil {
		s.logger.Error("identity lookup failed, denying conservatively",
			zap.String("principal_id", req.PrincipalID), zap.Error(err))
		return Result{Authorized: false, Reason: ReasonNoPermission}, err
	}

	// Admin bypass: the maximal role set skips every other layer.
	if effective == permission.Admin {
		return Result{Authorized: true, AppliedGrants: []string{grantAdmin}}, nil
	}

	if s.license != nil {
		ok, err := s.license.IsTierSufficient(ctx, s.feature)
		if err != nil {
			s.logger.Error("license check failed, denying conservatively", zap.Error(err))
			return Result{Authorized: false, Reason: ReasonLicenseRestriction}, err
		}
		if !ok {
			return Result{Authorized: false, Reason: ReasonLicenseRestriction}, nil
		}
	}

	if !permission.Has(effective, req.Permission) {
		return Result{Authorized: false, Reason: ReasonInsufficientRole}, nil
	}

	// ACL and policy-rule collection are independent given the same data
	// snapshot; fan out and combine deterministically afterward.
	var (
		aclPerms permission.Permission
		rules    []policy.Rule
	)
	g, gctx := errgroup.WithContext(ctx)
	hasResource := req.ResourceID != nil && *req.ResourceID != ""
	if hasResource {
		g.Go(func() error {
			var err error
			aclPerms, err = s.acl.Evaluate(gctx, *req.ResourceID, req.PrincipalID, req.PrincipalType, now)
			return err
		})
	}
	g.Go(func() error {
		var err error
		rules, err = s.registry.PoliciesFor(gctx, req.PrincipalID, now)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("evaluation layer failed, denying conservatively",
			zap.String("principal_id", req.PrincipalID), zap.Error(err))
		return Result{Authorized: false, Reason: ReasonNoPermission}, err
	}

	working := effective
	if hasResource {
		if !permission.Has(aclPerms, req.Permission) {
			return Result{Authorized: false, Reason: ReasonEntityRestricted}, nil
		}
		working &= aclPerms
	}

	decision := s.engine.Evaluate(ctx, rules, policy.Context{
		PrincipalID:   req.PrincipalID,
		PrincipalType: req.PrincipalType,
		ResourceID:    deref(req.ResourceID),
		ResourceType:  req.ResourceType,
		Permission:    req.Permission,
		Attributes:    req.Attributes,
		Now:           now,
	})
	working |= decision.Granted
	// Deny wins over every prior grant, RBAC and ACL included.
	working &^= decision.Denied

	if !permission.Has(working, req.Permission) {
		return Result{Authorized: false, Reason: ReasonPolicyViolation}, nil
	}

	grants := []string{grantRole}
	if hasResource {
		grants = append(grants, grantAcl)
	}
	if permission.Has(decision.Granted, req.Permission) {
		grants = append(grants, grantPolicy)
	}
	return Result{Authorized: true, AppliedGrants: grants}, nil
}

// GetEffectivePermissions returns the principal's role-derived permission
// union.
func (s *Service) GetEffectivePermissions(ctx context.Context, principalID string) (permission.Permission, error) {
	return s.registry.EffectivePermissions(ctx, principalID, s.now())
}

// FilterAccessible returns the subset of resource ids the principal holds the
// permission on. Items whose evaluation fails are conservatively excluded.
func (s *Service) FilterAccessible(ctx context.Context, principalID, principalType string, items []string, perm permission.Permission) ([]string, error) {
	accessible := make([]string, 0, len(items))
	for _, item := range items {
		id := item
		result, err := s.Authorize(ctx, Request{
			PrincipalID:   principalID,
			PrincipalType: principalType,
			Permission:    perm,
			ResourceID:    &id,
		})
		if err != nil {
			continue
		}
		if result.Authorized {
			accessible = append(accessible, item)
		}
	}
	return accessible, nil
}

// ResolveChain exposes the named-pattern inheritance chain for debugging and
// audit views.
func (s *Service) ResolveChain(ctx context.Context, resourceID, principalID, principalType string, pattern inheritance.Pattern) (inheritance.Chain, error) {
	return s.walker.Resolve(ctx, resourceID, principalID, principalType, pattern, s.now())
}

// IsCircular reports whether the candidate parent edge would close a cycle.
// Resource-management writes must call this before persisting the edge.
func (s *Service) IsCircular(ctx context.Context, childID, candidateParentID string) (bool, error) {
	return s.walker.IsCircular(ctx, childID, candidateParentID)
}

// InvalidatePrincipal evicts every cached decision for the principal. Role
// management must call it after each assignment or role mutation.
func (s *Service) InvalidatePrincipal(ctx context.Context, principalID string) error {
	if s.cache != nil {
		if err := s.cache.DeletePrefix(ctx, decisionKeyPrefix+principalID+"@"); err != nil {
			return err
		}
	}
	return s.bumpEpoch(ctx, principalEpochKey+principalID)
}

// InvalidateResource evicts cached decisions and inheritance chains for the
// resource. ACL management must call it after each ACL or parent-edge write.
// Descendants are not fanned out to; their entries age out by TTL.
func (s *Service) InvalidateResource(ctx context.Context, resourceID string) error {
	if s.walker != nil {
		if err := s.walker.Invalidate(ctx, resourceID); err != nil {
			return err
		}
	}
	return s.bumpEpoch(ctx, resourceEpochKey+resourceID)
}

// decisionKey builds the cache key from the request and the current
// principal/resource epochs. Invalidation bumps an epoch, orphaning every
// key minted under the old one; orphans expire with the decision TTL.
func (s *Service) decisionKey(ctx context.Context, req Request) string {
	resource := "-"
	resourceEpoch := "0"
	if req.ResourceID != nil && *req.ResourceID != "" {
		resource = *req.ResourceID
		resourceEpoch = s.epoch(ctx, resourceEpochKey+resource)
	}
	if req.ResourceType != "" {
		// The declared type feeds policy conditions and keys separately.
		resource = req.ResourceType + "/" + resource
	}
	principalEpoch := s.epoch(ctx, principalEpochKey+req.PrincipalID)
	return fmt.Sprintf("%s%s@%s:%d:%s@%s",
		decisionKeyPrefix, req.PrincipalID, principalEpoch, uint32(req.Permission), resource, resourceEpoch)
}

func (s *Service) epoch(ctx context.Context, key string) string {
	if s.cache == nil {
		return "0"
	}
	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		return string(data)
	}
	return "0"
}

func (s *Service) bumpEpoch(ctx context.Context, key string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Set(ctx, key, []byte(uuid.NewString()), 0)
}

func (s *Service) audit(req Request, result Result) {
	if s.recorder == nil {
		return
	}
	decision := "denied"
	if result.Authorized {
		decision = "authorized"
	}
	s.recorder.Submit(audit.Entry{
		PrincipalID:   req.PrincipalID,
		Permission:    req.Permission,
		ResourceID:    req.ResourceID,
		Decision:      decision,
		Reason:        string(result.Reason),
		AppliedGrants: result.AppliedGrants,
		Timestamp:     result.EvaluatedAt,
	})
}

func (s *Service) observe(result Result, start time.Time, cached bool) {
	if s.metrics == nil {
		return
	}
	outcome := "denied"
	if result.Authorized {
		outcome = "authorized"
	}
	s.metrics.DecisionsTotal.WithLabelValues(outcome, string(result.Reason)).Inc()
	cachedLabel := "false"
	if cached {
		cachedLabel = "true"
	}
	s.metrics.EvaluationDuration.WithLabelValues(cachedLabel).Observe(s.now().Sub(start).Seconds())
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
