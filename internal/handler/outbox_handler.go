package handler

import (
	"net/http"
	"strconv"
	"time"

	"tenantflow/internal/outbox"
	"tenantflow/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

const maxDeadLetterPage = 200

type OutboxHandler struct {
	publisher *outbox.Publisher
	now       func() time.Time
}

func NewOutboxHandler(publisher *outbox.Publisher) *OutboxHandler {
	return &OutboxHandler{publisher: publisher, now: func() time.Time { return time.Now().UTC() }}
}

// Publish runs one publish cycle. It is the cron entry point for deployments
// without the worker process.
func (h *OutboxHandler) Publish(c *gin.Context) {
	var req httpdto.PublishBatchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
			return
		}
	}
	if req.BatchSize < 0 || req.BatchSize > 1000 {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("batch_size must be between 0 and 1000", "INVALID_REQUEST"))
		return
	}

	result, err := h.publisher.PublishBatch(c.Request.Context(), h.now(), req.BatchSize)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromBatchResult(result)))
}

func (h *OutboxHandler) DeadLetters(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid limit", "INVALID_REQUEST"))
			return
		}
		limit = min(n, maxDeadLetterPage)
	}

	events, stats, err := h.publisher.DeadLetters(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromDeadLetters(events, stats)))
}
