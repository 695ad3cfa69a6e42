package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/insight-digest/internal/analyzer"
	"github.com/ignite/insight-digest/internal/api"
	"github.com/ignite/insight-digest/internal/config"
	"github.com/ignite/insight-digest/internal/digest"
	"github.com/ignite/insight-digest/internal/domain"
	"github.com/ignite/insight-digest/internal/ga4"
	"github.com/ignite/insight-digest/internal/google"
	"github.com/ignite/insight-digest/internal/pkg/distlock"
	"github.com/ignite/insight-digest/internal/pkg/httpretry"
	"github.com/ignite/insight-digest/internal/pkg/logger"
	"github.com/ignite/insight-digest/internal/repository/postgres"
	"github.com/ignite/insight-digest/internal/resend"
	"github.com/ignite/insight-digest/internal/service/credential"
	"github.com/ignite/insight-digest/internal/service/eligibility"
	"github.com/ignite/insight-digest/internal/service/notify"
	"github.com/ignite/insight-digest/internal/service/recorder"
	"github.com/ignite/insight-digest/internal/service/subscriber"
	"github.com/ignite/insight-digest/internal/ses"
	"github.com/ignite/insight-digest/internal/worker"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	once := flag.Bool("once", false, "run a single tick and exit")
	userID := flag.String("user", "", "process one subscriber (bypassing the gate) and exit")
	flag.Parse()

	log.Println("Starting insight digest worker...")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.RedactPII)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database connection
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	// Redis is optional: locks fall back to advisory locks, delivery to inline.
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Fatalf("Failed to ping redis: %v", err)
		}
		log.Println("Connected to redis")
	} else {
		log.Println("Redis not configured: using PostgreSQL advisory locks, inline delivery")
	}

	// Repositories and services
	subscriberRepo := postgres.NewSubscriberRepo(db)
	insightRepo := postgres.NewInsightRepo(db)
	jobRunRepo := postgres.NewJobRunRepo(db)

	subscribers := subscriber.NewService(subscriberRepo)
	audit := recorder.NewService(insightRepo)

	oauth := google.NewOAuth(google.Config{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.Google.RedirectURL,
		HandoffTTL:   cfg.Google.HandoffTTL(),
	})
	oauth.SetHTTPClient(&http.Client{Timeout: cfg.Google.Timeout()})
	go oauth.RunSweeper(ctx)
	credentials := credential.NewService(subscriberRepo, oauth)

	analytics := ga4.NewClient(cfg.Google.DataAPIBaseURL, oauth)
	analytics.SetHTTPClient(httpretry.NewRetryClient(
		&http.Client{Timeout: cfg.Google.Timeout()},
		cfg.Google.MaxRetries,
		httpretry.WithLogger(logger.Default().With("component", "ga4")),
	))

	renderer, err := digest.NewRenderer(cfg.Server.AppURL)
	if err != nil {
		log.Fatalf("Failed to parse email templates: %v", err)
	}

	mailer, err := newMailer(ctx, cfg.Email)
	if err != nil {
		log.Fatalf("Failed to initialize %s mailer: %v", cfg.Email.Provider, err)
	}
	sender := notify.NewSender(mailer, notify.Config{
		MaxAttempts: cfg.Notify.MaxAttempts,
		Delays:      cfg.Notify.Delays(),
	})
	sender.SetObserver(worker.AuditObserver(audit))
	log.Printf("Email provider: %s", cfg.Email.Provider)

	policies := tierPolicies(cfg.Tiers)
	location := time.Local
	if cfg.Scheduler.Timezone != "" {
		location = eligibility.LoadLocation(cfg.Scheduler.Timezone)
	}
	gate := eligibility.NewGate(policies, eligibility.Config{
		WeekdayZone:    eligibility.WeekdayZone(cfg.Gate.WeekdayZone),
		ServerLocation: location,
		WindowHours:    cfg.Gate.WindowHours,
	})

	deps := worker.ProcessorDeps{
		Subscribers: subscribers,
		Credentials: credentials,
		Fetcher:     analytics,
		Detector: analyzer.New(analyzer.Config{
			MinHistory:     cfg.Analyzer.MinHistory,
			ZThreshold:     cfg.Analyzer.ZThreshold,
			RecentDays:     cfg.Analyzer.RecentDays,
			TrendWindow:    cfg.Analyzer.TrendWindow,
			SlopeThreshold: cfg.Analyzer.SlopeThreshold,
			MaxInsights:    cfg.Analyzer.MaxInsights,
		}),
		Recorder: audit,
		Renderer: renderer,
		Notifier: sender,
		Gate:     gate,
		Policies: policies,
		Locks:    distlock.NewLocker(rdb, db, cfg.Redis.LockTTL()),
	}
	var retryQueue *notify.RetryQueue
	if rdb != nil {
		retryQueue = notify.NewRetryQueue(rdb, cfg.Redis.RetryKey)
		deps.Retries = retryQueue
	}

	processor := worker.NewInsightProcessor(deps, worker.ProcessorConfig{
		Mode:                    worker.DeliveryMode(cfg.Delivery.Mode),
		SubscriberTimeout:       cfg.Scheduler.SubscriberTimeout(),
		StillProcessingInterval: cfg.Delivery.StillProcessingInterval(),
		StillProcessingMinAge:   cfg.Delivery.StillProcessingMinAge(),
		DedupeWindow:            cfg.Delivery.DedupeWindow(),
	})
	scheduler := worker.NewInsightScheduler(subscribers, jobRunRepo, processor, gate, worker.SchedulerConfig{
		Spec:        cfg.Scheduler.Spec,
		Concurrency: cfg.Scheduler.Concurrency,
		Location:    location,
	})

	// One-shot modes
	if *userID != "" {
		printJSON(processor.Process(ctx, *userID, worker.ProcessOptions{Force: true}))
		return
	}
	if *once {
		summary := scheduler.RunTick(ctx)
		summary.Results = nil
		printJSON(summary)
		if summary.Status == domain.JobRunFailed {
			os.Exit(1)
		}
		return
	}

	// Long-running mode
	var retryWorker *worker.NotifyRetryWorker
	if retryQueue != nil {
		retryWorker = worker.NewNotifyRetryWorker(retryQueue, sender, subscribers, cfg.Notify.RetryPollInterval())
		if err := retryWorker.Start(); err != nil {
			log.Fatalf("Failed to start notify retry worker: %v", err)
		}
	}

	go worker.NewJobRunRecoveryWorker(db, 0, cfg.Retention.StaleJobRunAge()).Start(ctx)
	if cfg.Retention.Enabled {
		go worker.NewDataCleanupWorker(db, cfg.Retention.CleanupInterval(), worker.RetentionPolicy{
			EmailLogs: cfg.Retention.EmailLogRetention(),
			JobRuns:   cfg.Retention.JobRunRetention(),
			Insights:  cfg.Retention.InsightRetention(),
		}).Start(ctx)
	}

	if cfg.Scheduler.Enabled {
		if err := scheduler.Start(); err != nil {
			log.Fatalf("Failed to start scheduler: %v", err)
		}
	} else {
		log.Println("Scheduler disabled: ticks run only via the ops API")
	}

	var oauthFlow api.OAuthFlow
	var linker api.ConnectionLinker
	if cfg.Google.ClientID != "" {
		oauthFlow = oauth
		linker = subscribers
	}
	var depth api.QueueDepth
	if retryQueue != nil {
		depth = retryQueue
	}
	handlers := api.NewHandlers(scheduler, processor, oauthFlow, linker, cfg.Server.AppURL)
	router := api.NewRouter(handlers, api.NewHealthChecker(db, rdb, depth).WithTickHistory(scheduler, 2*time.Hour), api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		OpsToken:       cfg.Server.OpsToken,
	})
	server := api.NewServer(cfg.Server, router)
	go func() {
		log.Printf("Ops API listening on %s", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Ops API failed: %v", err)
		}
	}()

	log.Println("Worker running...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Ops API shutdown: %v", err)
	}

	scheduler.Stop()
	if retryWorker != nil {
		retryWorker.Stop()
	}
	cancel()

	log.Println("Worker stopped")
}

func newMailer(ctx context.Context, cfg config.EmailConfig) (notify.Mailer, error) {
	switch cfg.Provider {
	case "resend":
		return resend.NewMailer(cfg.Resend.APIKey, cfg.FromEmail, cfg.FromName)
	case "ses":
		return ses.NewMailer(ctx, ses.Config{
			Region:           cfg.SES.Region,
			AccessKey:        cfg.SES.AccessKey,
			SecretKey:        cfg.SES.SecretKey,
			FromEmail:        cfg.FromEmail,
			FromName:         cfg.FromName,
			ReplyTo:          cfg.ReplyTo,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}

func tierPolicies(tiers map[string]config.TierConfig) domain.TierPolicies {
	out := domain.DefaultTierPolicies()
	for name, t := range tiers {
		p := out.For(domain.Tier(name))
		if t.LookbackDays > 0 {
			p.LookbackDays = t.LookbackDays
		}
		if t.InsightsPerEmail > 0 {
			p.InsightsPerEmail = t.InsightsPerEmail
		}
		p.MinEmailInterval = t.MinEmailInterval()
		out[domain.Tier(name)] = p
	}
	return out
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Printf("encode result: %v", err)
	}
}
