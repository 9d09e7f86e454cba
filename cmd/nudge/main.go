package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"nudge/internal/config"
	"nudge/internal/db"
	"nudge/internal/digest"
	"nudge/internal/dispatch"
	"nudge/internal/domain"
	"nudge/internal/events"
	"nudge/internal/gateway"
	httpx "nudge/internal/http"
	"nudge/internal/identity"
	"nudge/internal/logging"
	"nudge/internal/metrics"
	"nudge/internal/prefs"
	"nudge/internal/schedule"
	"nudge/internal/scheduler"
)

func main() {
	cfg, _ := config.Load()

	logger, err := logging.New(cfg.DevLogging)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		logger.Fatal("db migrate failed", zap.Error(err))
	}

	metrics.Register()

	jwtSvc := identity.NewJWT(cfg.TokenSecret)
	r := httpx.NewRouter(cfg, gdb, jwtSvc)

	resolver := &prefs.Resolver{DB: gdb}
	schedSvc := &schedule.Service{DB: gdb, Prefs: resolver}
	dispatchRepo := &dispatch.Repo{DB: gdb}

	gw := gateway.NewMux()
	for _, ch := range domain.Channels() {
		gw.Register(ch, &gateway.LogSender{Log: logger})
	}

	loop := &scheduler.Loop{
		Schedules: schedSvc,
		Prefs:     resolver,
		Log:       dispatchRepo,
		Gateway:   gw,
		Logger:    logger,

		Interval:        cfg.TickInterval,
		LookAhead:       cfg.LookAhead,
		DeliveryTimeout: cfg.DeliveryTimeout,
		MaxAttempts:     cfg.RetryMaxAttempts,
		BackoffWindow:   cfg.RetryBackoffWindow,
		OverdueGrace:    cfg.OverdueGrace,
	}

	agg := &digest.Aggregator{
		Schedules:       schedSvc,
		Prefs:           resolver,
		Log:             dispatchRepo,
		Gateway:         gw,
		Logger:          logger,
		DeliveryTimeout: cfg.DeliveryTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc("* * * * *", func() { agg.Tick(ctx) }); err != nil {
		logger.Fatal("digest cron failed", zap.Error(err))
	}
	c.Start()

	var consumer *events.Consumer
	if len(cfg.KafkaBrokers) > 0 {
		consumer = events.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, schedSvc, logger)
		go consumer.Run(ctx)
		logger.Info("job event consumer started",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic),
		)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	cancel()
	cronCtx := c.Stop()
	<-cronCtx.Done()
	if consumer != nil {
		_ = consumer.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
