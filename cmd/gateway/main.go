package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/carecircle/internal/api"
	"github.com/lalithlochan/carecircle/internal/checkin"
	"github.com/lalithlochan/carecircle/internal/circuitbreaker"
	"github.com/lalithlochan/carecircle/internal/config"
	"github.com/lalithlochan/carecircle/internal/db"
	"github.com/lalithlochan/carecircle/internal/jobs"
	"github.com/lalithlochan/carecircle/internal/metrics"
	"github.com/lalithlochan/carecircle/internal/notify"
	"github.com/lalithlochan/carecircle/internal/observ"
	"github.com/lalithlochan/carecircle/internal/redis"
	"github.com/lalithlochan/carecircle/internal/sns"
	"github.com/lalithlochan/carecircle/internal/sqs"
	"github.com/lalithlochan/carecircle/internal/worker"
)

const version = "v0.4.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// markerStore is what both marker backends provide.
type markerStore interface {
	notify.MarkerStore
	jobs.Pruner
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting carecircle gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("version", version),
		zap.String("default_timezone", cfg.DefaultTimezone),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)
	fallback := cfg.Location()

	// Redis backs the rate limiter and, optionally, the markers.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		if cfg.MarkerBackend == "redis" {
			return fmt.Errorf("redis marker backend unavailable: %w", err)
		}
		logger.Warn("redis unavailable, rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	} else {
		defer redisClient.Close()
	}

	var limiter api.Limiter
	if redisClient != nil {
		limiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimit,
			Window: cfg.RateLimitWindow,
		})
	}

	var markers markerStore = db.NewMarkerStore(database, logger)
	if cfg.MarkerBackend == "redis" {
		markers = redis.NewMarkerStore(redisClient, logger)
	}
	logger.Info("notification markers configured", zap.String("backend", cfg.MarkerBackend))

	direct, err := buildSenders(ctx, cfg, logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	// With a queue configured, pushes go through SQS and a worker in this
	// process drains it into the direct senders.
	var outbound worker.Sender = direct
	if cfg.SQSQueueURL != "" {
		sqsCfg := sqs.Config{Region: cfg.SQSRegion, QueueURL: cfg.SQSQueueURL}
		client, err := sqs.NewClient(ctx, sqsCfg)
		if err != nil {
			return fmt.Errorf("failed to create sqs client: %w", err)
		}
		producer := sqs.NewProducer(client, sqsCfg, logger)
		outbound = worker.NewMultiSender(logger, worker.NewQueueSender(producer, logger, worker.ChannelPush), direct)

		w := worker.New(sqs.NewConsumer(client, sqsCfg, logger), direct, worker.Config{}, logger)
		g.Go(func() error { return w.Start(ctx) })
		logger.Info("push deliveries routed through sqs", zap.String("queue_url", cfg.SQSQueueURL))
	}

	audience := notify.NewAudienceResolver(repo, time.Minute, logger)
	notifier := notify.NewNotifier(audience, markers, outbound, logger)
	forwarder := notify.NewForwarder(notifier, repo, outbound, notify.ForwarderConfig{
		WebhookURL: cfg.AlertWebhookURL,
		Location:   fallback,
	}, logger)

	tracker := checkin.NewTracker(db.NewCheckInSource(repo, fallback), checkin.TrackerConfig{
		RefreshInterval: cfg.StatusRefreshRate,
	}, logger)

	runner := jobs.NewRunner(logger)
	if cfg.JobsEnabled {
		deps := &jobs.Deps{
			Store:    repo,
			Users:    audience,
			Notifier: notifier,
			Fallback: fallback,
			Logger:   logger,
		}
		runner.Add(jobs.CheckInUpcoming{Deps: deps}, cfg.FastJobInterval)
		runner.Add(jobs.CheckInMissed{Deps: deps}, cfg.SlowJobInterval)
		runner.Add(jobs.RoutineUpcoming{Deps: deps}, cfg.FastJobInterval)
		runner.Add(jobs.ReminderUpcoming{Deps: deps}, cfg.FastJobInterval)
		runner.Add(jobs.ReminderMissed{Deps: deps}, cfg.SlowJobInterval)
		runner.Add(jobs.MarkerPrune{Pruner: markers, Logger: logger}, 24*time.Hour)

		g.Go(func() error { return runner.Start(ctx) })
	} else {
		logger.Info("scheduled jobs disabled")
	}

	handler := api.NewHandler(logger, repo, tracker, api.Options{
		Forwarder: forwarder,
		Jobs:      runner,
		Fallback:  fallback,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(api.RequestLogger(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(limiter, logger, api.UserKeyFunc))
		handler.Routes(r)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	// No WriteTimeout: the status stream stays open. Other routes are bounded
	// by the handler's timeout middleware.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		logger.Info("server stopped gracefully")
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				metrics.SetDBConnections(database.Stats())
			}
		}
	})

	return g.Wait()
}

// buildSenders creates one breaker-protected sender per channel. Providers
// that are not configured log instead of sending.
func buildSenders(ctx context.Context, cfg *config.Config, logger *zap.Logger) (worker.Sender, error) {
	var push worker.Sender
	if cfg.PlatformApplicationARN != "" {
		publisher, err := sns.NewPublisher(ctx, sns.Config{
			Region:                 cfg.SNSRegion,
			PlatformApplicationARN: cfg.PlatformApplicationARN,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create sns publisher: %w", err)
		}
		push = worker.NewPushSender(publisher, logger)
	} else {
		logger.Warn("SNS_PLATFORM_APPLICATION_ARN not set, push notifications are logged only")
		push = worker.NewLogSender(logger, worker.ChannelPush)
	}

	var email worker.Sender
	ses, err := worker.NewSESSender(ctx, worker.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		logger.Warn("SES sender unavailable, email is logged only", zap.Error(err))
		email = worker.NewLogSender(logger, worker.ChannelEmail)
	} else {
		email = ses
	}

	webhook := worker.NewWebhookSender(logger, worker.WebhookConfig{
		DefaultTimeout: time.Duration(cfg.WebhookTimeout) * time.Second,
	})

	onChange := func(name string, from, to circuitbreaker.State) {
		metrics.SetCircuitState(name, int(to))
	}
	protect := func(channel string, s worker.Sender) worker.Sender {
		bc := circuitbreaker.DefaultConfig(channel)
		bc.OnStateChange = onChange
		return circuitbreaker.NewProtectedSender(s, circuitbreaker.New(bc, logger), logger)
	}

	logger.Info("initialized delivery channels",
		zap.Bool("push_enabled", cfg.PlatformApplicationARN != ""),
		zap.Bool("email_enabled", ses != nil),
		zap.Bool("webhook_enabled", cfg.AlertWebhookURL != ""),
	)

	return worker.NewMultiSender(logger,
		protect(worker.ChannelPush, push),
		protect(worker.ChannelEmail, email),
		protect(worker.ChannelWebhook, webhook),
	), nil
}
