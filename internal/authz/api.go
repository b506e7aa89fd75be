package authz

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dhawalhost/gateseal/internal/entityacl"
	"github.com/dhawalhost/gateseal/internal/inheritance"
	"github.com/dhawalhost/gateseal/internal/permission"
	"github.com/dhawalhost/gateseal/pkg/middleware"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("permission", func(fl validator.FieldLevel) bool {
			_, err := permission.Parse(fl.Field().String())
			return err == nil
		})
	}
}

// HTTPHandler handles authorization HTTP requests.
type HTTPHandler struct {
	svc     *Service
	limiter *middleware.IPRateLimiter
	logger  *zap.Logger
}

// NewHTTPHandler creates a new authorization HTTP handler. limiter may be
// nil to disable per-client rate limiting.
func NewHTTPHandler(svc *Service, limiter *middleware.IPRateLimiter, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, limiter: limiter, logger: logger}
}

// RegisterRoutes registers authorization routes.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/authorize", h.authorize)
	rg.POST("/filter", h.filter)
	rg.GET("/principals/:id/permissions", h.principalPermissions)
	rg.POST("/invalidate/principal/:id", h.invalidatePrincipal)
	rg.POST("/invalidate/resource/:id", h.invalidateResource)
	rg.GET("/cycle-check", h.cycleCheck)
	rg.GET("/chain", h.chain)
}

type authorizeBody struct {
	PrincipalID   string                 `json:"principal_id" binding:"required"`
	PrincipalType string                 `json:"principal_type" binding:"omitempty,oneof=user team role service"`
	Permission    string                 `json:"permission" binding:"required,permission"`
	ResourceID    *string                `json:"resource_id"`
	ResourceType  string                 `json:"resource_type"`
	Attributes    map[string]interface{} `json:"attributes"`
	BypassCache   bool                   `json:"bypass_cache"`
}

func (h *HTTPHandler) authorize(c *gin.Context) {
	// Rate-limited callers still receive a decision-shaped body so clients
	// can treat every authorize response uniformly.
	if h.limiter != nil && !h.limiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, RateLimitedResult())
		return
	}

	var body authorizeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	perm, err := permission.Parse(body.Permission)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.svc.Authorize(c.Request.Context(), Request{
		PrincipalID:   body.PrincipalID,
		PrincipalType: body.PrincipalType,
		Permission:    perm,
		ResourceID:    body.ResourceID,
		ResourceType:  body.ResourceType,
		Attributes:    body.Attributes,
		BypassCache:   body.BypassCache,
	})
	if err != nil {
		h.logger.Error("Authorization evaluation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "evaluation failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

type filterBody struct {
	PrincipalID   string   `json:"principal_id" binding:"required"`
	PrincipalType string   `json:"principal_type" binding:"omitempty,oneof=user team role service"`
	Permission    string   `json:"permission" binding:"required,permission"`
	ResourceIDs   []string `json:"resource_ids" binding:"required"`
}

func (h *HTTPHandler) filter(c *gin.Context) {
	var body filterBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	perm, err := permission.Parse(body.Permission)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	accessible, err := h.svc.FilterAccessible(c.Request.Context(), body.PrincipalID, body.PrincipalType, body.ResourceIDs, perm)
	if err != nil {
		h.logger.Error("Failed to filter resources", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "evaluation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resource_ids": accessible})
}

func (h *HTTPHandler) principalPermissions(c *gin.Context) {
	id := c.Param("id")
	perms, err := h.svc.GetEffectivePermissions(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to resolve principal permissions",
			zap.String("principal_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resolution failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"principal_id": id,
		"permissions":  perms.Names(),
	})
}

func (h *HTTPHandler) invalidatePrincipal(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.InvalidatePrincipal(c.Request.Context(), id); err != nil {
		h.logger.Error("Failed to invalidate principal cache",
			zap.String("principal_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalidation failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) invalidateResource(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.InvalidateResource(c.Request.Context(), id); err != nil {
		h.logger.Error("Failed to invalidate resource cache",
			zap.String("resource_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalidation failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) cycleCheck(c *gin.Context) {
	childID := c.Query("child_id")
	parentID := c.Query("parent_id")
	if childID == "" || parentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "child_id and parent_id are required"})
		return
	}

	circular, err := h.svc.IsCircular(c.Request.Context(), childID, parentID)
	if err != nil {
		h.logger.Error("Cycle check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cycle check failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"circular": circular})
}

func (h *HTTPHandler) chain(c *gin.Context) {
	resourceID := c.Query("resource_id")
	principalID := c.Query("principal_id")
	if resourceID == "" || principalID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resource_id and principal_id are required"})
		return
	}
	principalType := c.DefaultQuery("principal_type", entityacl.PrincipalTypeUser)
	pattern := inheritance.Pattern(c.DefaultQuery("pattern", string(inheritance.PatternStrict)))
	switch pattern {
	case inheritance.PatternStrict, inheritance.PatternOverride, inheritance.PatternUnion:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown inheritance pattern"})
		return
	}

	chain, err := h.svc.ResolveChain(c.Request.Context(), resourceID, principalID, principalType, pattern)
	if err != nil {
		if errors.Is(err, entityacl.ErrResourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
			return
		}
		h.logger.Error("Chain resolution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resolution failed"})
		return
	}
	c.JSON(http.StatusOK, chain)
}
