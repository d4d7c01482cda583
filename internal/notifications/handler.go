package notifications

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/igdrones/ig-docs-backend/internal/apperrors"
)

type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/notifications/deliveries", h.ListDeliveries)
}

// ListDeliveries returns the delivery log of one document.
func (h *Handler) ListDeliveries(c *gin.Context) {
	documentID, err := uuid.Parse(c.Query("document_id"))
	if err != nil {
		apperrors.BadRequest(c, "document_id is required")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 500 {
		limit = 50
	}

	logs, err := h.service.ListDeliveries(c.Request.Context(), documentID, limit)
	if err != nil {
		apperrors.Respond(c, h.logger, apperrors.Internal("notifications.ListDeliveries", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": logs})
}
