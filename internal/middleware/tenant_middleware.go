package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"tenantflow/internal/transport/httpdto"
	"tenantflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Authentication happens at the edge; the edge forwards the resolved tenant
// and actor in these headers.
const (
	OrganizationHeader  = "X-Organization-Id"
	ActorHeader         = "X-Actor-User-Id"
	CorrelationIDHeader = "X-Correlation-Id"
)

type tenantKey struct{}

type Tenant struct {
	OrganizationID uuid.UUID
	ActorUserID    uuid.NullUUID
	CorrelationID  string
}

func WithTenant(ctx context.Context, t Tenant) context.Context {
	return context.WithValue(ctx, tenantKey{}, t)
}

func TenantFromContext(ctx context.Context) (Tenant, bool) {
	t, ok := ctx.Value(tenantKey{}).(Tenant)
	return t, ok
}

// TenantMiddleware parses the tenant headers. A malformed id is rejected; an
// absent one is left unset for public routes.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var t Tenant
		if raw := c.GetHeader(OrganizationHeader); raw != "" {
			orgID, err := uuid.Parse(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid organization id", "INVALID_REQUEST"))
				c.Abort()
				return
			}
			t.OrganizationID = orgID
		}
		if raw := c.GetHeader(ActorHeader); raw != "" {
			actorID, err := uuid.Parse(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid actor id", "INVALID_REQUEST"))
				c.Abort()
				return
			}
			t.ActorUserID = uuid.NullUUID{UUID: actorID, Valid: true}
		}
		t.CorrelationID = c.GetHeader(CorrelationIDHeader)
		if t.CorrelationID == "" {
			if rid, ok := c.Request.Context().Value(logger.RequestIdKey).(string); ok {
				t.CorrelationID = rid
			}
		}

		ctx := WithTenant(c.Request.Context(), t)
		if t.OrganizationID != uuid.Nil {
			ctx = context.WithValue(ctx, logger.OrganizationIdKey, t.OrganizationID.String())
		}
		ctx = context.WithValue(ctx, logger.CorrelationIdKey, t.CorrelationID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireOrganization rejects requests without a tenant.
func RequireOrganization() gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := TenantFromContext(c.Request.Context())
		if !ok || t.OrganizationID == uuid.Nil {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("organization required", "UNAUTHORIZED"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// InternalTokenMiddleware guards operational routes with a shared bearer
// token. An empty token disables the routes.
func InternalTokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		given := extractBearer(c)
		if token == "" || given == "" || subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	value := c.GetHeader("Authorization")
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
