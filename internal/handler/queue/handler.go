package queue

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/healthdesk/clinic-api/internal/handler"
	"github.com/healthdesk/clinic-api/internal/model"
	"github.com/healthdesk/clinic-api/internal/repository"
)

// Handler serves the doctor-day queue board. Reads go through a short
// TTL cache: the board is advisory display state and recalculations
// land within seconds anyway.
type Handler struct {
	repo  repository.AppointmentRepository
	cache *gocache.Cache
}

func NewHandler(repo repository.AppointmentRepository) *Handler {
	return &Handler{
		repo:  repo,
		cache: gocache.New(5*time.Second, time.Minute),
	}
}

// Board returns positions and ETAs for one doctor-day, ordered by
// queue position.
func (h *Handler) Board(c *gin.Context) {
	doctorID, err := uuid.Parse(c.Query("doctor_id"))
	if err != nil {
		handler.BadRequest(c, "invalid doctor ID")
		return
	}

	day := model.ServiceDay(c.Query("date"))
	if day == "" {
		day = model.ServiceDayOf(time.Now())
	}
	if _, _, err := day.Bounds(); err != nil {
		handler.BadRequest(c, "invalid date, expected YYYY-MM-DD")
		return
	}

	cacheKey := fmt.Sprintf("board:%s:%s", doctorID, day)
	if cached, ok := h.cache.Get(cacheKey); ok {
		handler.Success(c, http.StatusOK, cached)
		return
	}

	appointments, err := h.repo.ListActiveForDay(c.Request.Context(), doctorID, day)
	if err != nil {
		handler.Error(c, err)
		return
	}

	entries := make([]model.QueueEntry, 0, len(appointments))
	for _, apt := range appointments {
		if apt.QueuePosition == nil || apt.EstimatedStart == nil {
			// Not yet positioned; a recalculation is in flight.
			continue
		}
		entries = append(entries, model.QueueEntry{
			AppointmentID:  apt.ID,
			PatientID:      apt.PatientID,
			Status:         apt.Status,
			Position:       *apt.QueuePosition,
			ScheduledAt:    apt.ScheduledAt,
			EstimatedStart: *apt.EstimatedStart,
			DelayMinutes:   apt.DelayMinutes,
		})
	}

	h.cache.SetDefault(cacheKey, entries)
	handler.Success(c, http.StatusOK, entries)
}
