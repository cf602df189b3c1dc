package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/healthdesk/clinic-api/internal/changefeed"
	"github.com/healthdesk/clinic-api/internal/config"
	"github.com/healthdesk/clinic-api/internal/email"
	"github.com/healthdesk/clinic-api/internal/jobqueue"
	"github.com/healthdesk/clinic-api/internal/model"
	"github.com/healthdesk/clinic-api/internal/repository/postgres"
	notificationsvc "github.com/healthdesk/clinic-api/internal/service/notification"
	queuesvc "github.com/healthdesk/clinic-api/internal/service/queue"
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

	redisOpts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		appLogger.Fatal(err, "Failed to parse Redis URL")
	}
	redisClient := goredis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		appLogger.Fatal(err, "Failed to connect to Redis")
	}

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

	m := metrics.NewMetrics("clinic", "worker")
	queue := jobqueue.NewQueue(jobRepo, cfg.Worker.MaxRetries, appLogger)

	engine := queuesvc.NewEngine(appointmentRepo, broker, appLogger, m)

	sender := email.NewSMTPSender(cfg.Email, postgres.NewPatientEmailResolver(baseRepo))
	notifSvc := notificationsvc.NewService(notificationRepo, queue, sender, broker, appLogger, m)

	locker := jobqueue.NewRedisKeyLocker(redisClient, cfg.Worker.LockTTL, cfg.Worker.LockWait)

	dispatcher := jobqueue.NewDispatcher(jobRepo, locker, jobqueue.DispatcherConfig{
		Workers:         cfg.Worker.Workers,
		PollInterval:    cfg.Worker.PollInterval,
		BatchSize:       cfg.Worker.BatchSize,
		BaseBackoff:     cfg.Worker.BaseBackoff,
		MaxBackoff:      cfg.Worker.MaxBackoff,
		StoreTimeout:    cfg.Worker.StoreTimeout,
		ClaimTimeout:    cfg.Worker.ClaimTimeout,
		Retention:       cfg.Worker.JobRetention,
		JanitorInterval: cfg.Worker.JanitorInterval,
	}, appLogger, m)

	dispatcher.Register(model.JobTypeRecalculateQueue, engine.HandleJob)
	dispatcher.Register(model.JobTypeSendNotification, notifSvc.Deliver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Shutting down...")
		cancel()
	}()

	setupHealthAndMetrics(cfg.Worker.MetricsPort, appLogger)

	feed := changefeed.NewListener(cfg.Database.DSN(), queue, appLogger)
	go func() {
		if err := feed.Start(ctx); err != nil {
			appLogger.Error(err, "Change feed listener failed")
		}
	}()

	dispatcher.Start(ctx)
}

func setupHealthAndMetrics(port int, appLogger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			appLogger.Error(err, "Health check server failed")
			os.Exit(1)
		}
	}()
}
