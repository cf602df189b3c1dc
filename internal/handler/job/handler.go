package job

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/healthdesk/clinic-api/internal/handler"
	"github.com/healthdesk/clinic-api/internal/jobqueue"
	"github.com/healthdesk/clinic-api/internal/repository"
)

type Handler struct {
	repo  repository.JobRepository
	queue *jobqueue.Queue
}

func NewHandler(repo repository.JobRepository, queue *jobqueue.Queue) *Handler {
	return &Handler{repo: repo, queue: queue}
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		handler.BadRequest(c, "invalid job ID")
		return
	}

	job, err := h.repo.Get(c.Request.Context(), id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	handler.Success(c, http.StatusOK, job)
}

// Cancel stops a pending job. Running jobs cannot be cancelled; they
// always run to a terminal status.
func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		handler.BadRequest(c, "invalid job ID")
		return
	}

	cancelled, err := h.queue.Cancel(c.Request.Context(), id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	if !cancelled {
		c.JSON(http.StatusConflict, handler.Response{
			Status:  "error",
			Message: "job is not pending; running jobs cannot be cancelled",
		})
		return
	}
	handler.Success(c, http.StatusOK, gin.H{"cancelled": true})
}
