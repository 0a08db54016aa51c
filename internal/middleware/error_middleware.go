package middleware

import (
	"errors"
	"net/http"

	"tenantflow/internal/transport/httpdto"
	tenantflow_errors "tenantflow/pkg/errors"
	"tenantflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler renders the last error a handler attached with c.Error.
// Typed domain errors keep their code; anything else is a 500.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status, code, msg := classify(err)
		if l != nil {
			log := l.WithContext(c.Request.Context())
			if status >= http.StatusInternalServerError {
				log.Error("request error", zap.Error(err), zap.String("code", code))
			} else {
				log.Info("request rejected", zap.Error(err), zap.String("code", code))
			}
		}
		if status == http.StatusServiceUnavailable {
			c.JSON(status, httpdto.NewRetryableErrorResponse(msg, code))
			return
		}
		c.JSON(status, httpdto.NewErrorResponse(msg, code))
	}
}

func classify(err error) (int, string, string) {
	var (
		policyErr     *tenantflow_errors.PolicyError
		validationErr *tenantflow_errors.ValidationError
		conflictErr   *tenantflow_errors.ConflictError
	)
	switch {
	case errors.As(err, &policyErr):
		return http.StatusForbidden, policyErr.Code, err.Error()
	case errors.As(err, &validationErr):
		return http.StatusUnprocessableEntity, validationErr.Code, err.Error()
	case errors.As(err, &conflictErr):
		return http.StatusConflict, "IDEMPOTENCY_CONFLICT", err.Error()
	case errors.Is(err, tenantflow_errors.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", err.Error()
	case errors.Is(err, tenantflow_errors.ErrConflict):
		return http.StatusConflict, "CONFLICT", err.Error()
	case errors.Is(err, tenantflow_errors.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", err.Error()
	case errors.Is(err, tenantflow_errors.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_REQUEST", err.Error()
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal error"
	}
}
