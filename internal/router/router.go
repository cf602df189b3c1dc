package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/healthdesk/clinic-api/internal/handler"
	appointmenth "github.com/healthdesk/clinic-api/internal/handler/appointment"
	jobh "github.com/healthdesk/clinic-api/internal/handler/job"
	notificationh "github.com/healthdesk/clinic-api/internal/handler/notification"
	queueh "github.com/healthdesk/clinic-api/internal/handler/queue"
	"github.com/healthdesk/clinic-api/internal/middleware"
)

type Config struct {
	RateLimit      rate.Limit
	RateBurst      int
	RequestTimeout time.Duration
}

type Router struct {
	engine        *gin.Engine
	appointmentH  *appointmenth.Handler
	queueH        *queueh.Handler
	notificationH *notificationh.Handler
	jobH          *jobh.Handler
	config        Config
}

func NewRouter(
	appointmentH *appointmenth.Handler,
	queueH *queueh.Handler,
	notificationH *notificationh.Handler,
	jobH *jobh.Handler,
	config Config,
) *Router {
	gin.SetMode(gin.ReleaseMode)

	return &Router{
		engine:        gin.New(),
		appointmentH:  appointmentH,
		queueH:        queueH,
		notificationH: notificationH,
		jobH:          jobH,
		config:        config,
	}
}

func (r *Router) Setup() *gin.Engine {
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.Logger())
	r.engine.Use(middleware.Timeout(r.config.RequestTimeout))

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  r.config.RateLimit,
		Burst: r.config.RateBurst,
	})
	r.engine.Use(limiter.RateLimit())

	r.engine.GET("/health", handler.HealthCheck)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.engine.Group("/api/v1")
	{
		appointments := api.Group("/appointments")
		{
			appointments.POST("", r.appointmentH.Create)
			appointments.GET("", r.appointmentH.List)
			appointments.GET("/:id", r.appointmentH.Get)
			appointments.POST("/:id/check-in", r.appointmentH.CheckIn)
			appointments.POST("/:id/start", r.appointmentH.Start)
			appointments.POST("/:id/complete", r.appointmentH.Complete)
			appointments.POST("/:id/no-show", r.appointmentH.NoShow)
			appointments.POST("/:id/cancel", r.appointmentH.Cancel)
			appointments.POST("/:id/reschedule", r.appointmentH.Reschedule)
		}

		api.GET("/queue", r.queueH.Board)
		api.GET("/notifications/counts", r.notificationH.Counts)

		jobs := api.Group("/jobs")
		{
			jobs.GET("/:id", r.jobH.Get)
			jobs.POST("/:id/cancel", r.jobH.Cancel)
		}
	}

	return r.engine
}
