package authz

import (
	"time"

	"github.com/dhawalhost/gateseal/internal/permission"
)

// Reason classifies why a request was denied. Denial is a normal outcome,
// not an error; these values are returned, never thrown.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonNoPermission       Reason = "no_permission"
	ReasonInsufficientRole   Reason = "insufficient_role"
	ReasonEntityRestricted   Reason = "entity_restricted"
	ReasonPolicyViolation    Reason = "policy_violation"
	ReasonLicenseRestriction Reason = "license_restriction"
	ReasonRateLimited        Reason = "rate_limited"
)

// Request asks whether a principal may exercise a permission, optionally at
// a specific resource.
type Request struct {
	PrincipalID   string                 `json:"principal_id"`
	PrincipalType string                 `json:"principal_type,omitempty"`
	Permission    permission.Permission  `json:"permission"`
	ResourceID    *string                `json:"resource_id,omitempty"`
	// ResourceType feeds resource.type in policy conditions.
	ResourceType string                 `json:"resource_type,omitempty"`
	Attributes   map[string]interface{} `json:"attributes,omitempty"`
	// BypassCache forces a fresh evaluation.
	BypassCache bool `json:"bypass_cache,omitempty"`
}

// Result is the outcome of one authorization check.
type Result struct {
	Authorized    bool          `json:"authorized"`
	Reason        Reason        `json:"reason,omitempty"`
	AppliedGrants []string      `json:"applied_grants,omitempty"`
	EvaluatedAt   time.Time     `json:"evaluated_at"`
	Duration      time.Duration `json:"evaluation_duration"`
	FromCache     bool          `json:"from_cache,omitempty"`
}

// RateLimitedResult is the denial the transport layer returns when a caller
// exceeds its request budget before evaluation starts.
func RateLimitedResult() Result {
	return Result{
		Authorized:  false,
		Reason:      ReasonRateLimited,
		EvaluatedAt: time.Now().UTC(),
	}
}

// Grant layer labels recorded in Result.AppliedGrants.
const (
	grantAdmin  = "admin"
	grantRole   = "role"
	grantAcl    = "acl"
	grantPolicy = "policy"
)
