package notification

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/healthdesk/clinic-api/internal/handler"
	"github.com/healthdesk/clinic-api/internal/service/notification"
)

type Handler struct {
	service notification.Service
}

func NewHandler(service notification.Service) *Handler {
	return &Handler{service: service}
}

// Counts surfaces pending/sent/failed totals for operator follow-up on
// permanently failed deliveries.
func (h *Handler) Counts(c *gin.Context) {
	counts, err := h.service.Counts(c.Request.Context())
	if err != nil {
		handler.Error(c, err)
		return
	}
	handler.Success(c, http.StatusOK, counts)
}
