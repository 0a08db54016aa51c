package handler

import (
	"net/http"
	"strings"

	"tenantflow/internal/checkout"
	"tenantflow/internal/domain/payment"
	"tenantflow/internal/middleware"
	"tenantflow/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type CheckoutHandler struct {
	engine *checkout.Engine
}

func NewCheckoutHandler(engine *checkout.Engine) *CheckoutHandler {
	return &CheckoutHandler{engine: engine}
}

func (h *CheckoutHandler) Create(c *gin.Context) {
	var req httpdto.CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}
	if key == "" {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("idempotency key is required", "INVALID_REQUEST"))
		return
	}

	tenant, _ := middleware.TenantFromContext(c.Request.Context())
	result, err := h.engine.CreateCheckout(c.Request.Context(), checkout.CheckoutRequest{
		OrganizationID:   tenant.OrganizationID,
		ActorUserID:      tenant.ActorUserID,
		SourceType:       payment.SourceType(strings.ToUpper(req.SourceType)),
		SourceID:         req.SourceID,
		IdempotencyKey:   key,
		BuyerIdentityRef: req.BuyerIdentityRef,
		InviteToken:      req.InviteToken,
		CorrelationID:    tenant.CorrelationID,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, httpdto.NewSuccessResponse(httpdto.FromCheckoutResult(result)))
}

func (h *CheckoutHandler) FinalizeProcessorFees(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid payment id", "INVALID_REQUEST"))
		return
	}
	var req httpdto.FinalizeFeesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}

	tenant, _ := middleware.TenantFromContext(c.Request.Context())
	result, err := h.engine.FinalizeProcessorFees(c.Request.Context(), checkout.FinalizeFeesRequest{
		OrganizationID: tenant.OrganizationID,
		ActorUserID:    tenant.ActorUserID,
		PaymentID:      paymentID,
		Actual:         *req.Amount,
		IdempotencyKey: key,
		CorrelationID:  tenant.CorrelationID,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromFinalizeFeesResult(result)))
}
