package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/healthdesk/clinic-api/internal/config"
	appointmenth "github.com/healthdesk/clinic-api/internal/handler/appointment"
	jobh "github.com/healthdesk/clinic-api/internal/handler/job"
	notificationh "github.com/healthdesk/clinic-api/internal/handler/notification"
	queueh "github.com/healthdesk/clinic-api/internal/handler/queue"
	"github.com/healthdesk/clinic-api/internal/jobqueue"
	"github.com/healthdesk/clinic-api/internal/repository/postgres"
	"github.com/healthdesk/clinic-api/internal/router"
	appointmentsvc "github.com/healthdesk/clinic-api/internal/service/appointment"
	notificationsvc "github.com/healthdesk/clinic-api/internal/service/notification"
	"github.com/healthdesk/clinic-api/pkg/logger"
	redisbroker "github.com/healthdesk/clinic-api/pkg/messaging/redis"
	"github.com/healthdesk/clinic-api/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	appLogger := &logger.Logger{ZL: log.Logger}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		appLogger.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()

	broker, err := redisbroker.NewRedisBroker(redisbroker.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &log.Logger)
	if err != nil {
		appLogger.Fatal(err, "Failed to create Redis broker")
	}
	defer broker.Close()

	baseRepo := postgres.NewBaseRepository(db)
	appointmentRepo := postgres.NewAppointmentRepository(baseRepo)
	jobRepo := postgres.NewJobRepository(baseRepo)
	notificationRepo := postgres.NewNotificationRepository(baseRepo)

	m := metrics.NewMetrics("clinic", "api")
	queue := jobqueue.NewQueue(jobRepo, cfg.Worker.MaxRetries, appLogger)

	// The API only records notifications and schedules delivery; the
	// worker process owns the actual send, so no mail sender here.
	notifSvc := notificationsvc.NewService(notificationRepo, queue, nil, broker, appLogger, m)
	aptSvc := appointmentsvc.NewService(appointmentRepo, queue, notifSvc, appLogger)

	r := router.NewRouter(
		appointmenth.NewHandler(aptSvc),
		queueh.NewHandler(appointmentRepo),
		notificationh.NewHandler(notifSvc),
		jobh.NewHandler(jobRepo, queue),
		router.Config{
			RateLimit:      rate.Limit(100),
			RateBurst:      200,
			RequestTimeout: cfg.Server.RequestTimeout,
		},
	)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	appLogger.Info("starting API server", "addr", addr)
	if err := r.Setup().Run(addr); err != nil {
		appLogger.Fatal(err, "Server failed")
	}
}
