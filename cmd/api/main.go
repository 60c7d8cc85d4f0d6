package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/straye-as/purchase-api/docs"
	"github.com/straye-as/purchase-api/internal/auth"
	"github.com/straye-as/purchase-api/internal/config"
	"github.com/straye-as/purchase-api/internal/database"
	"github.com/straye-as/purchase-api/internal/http/handler"
	"github.com/straye-as/purchase-api/internal/http/middleware"
	"github.com/straye-as/purchase-api/internal/http/router"
	"github.com/straye-as/purchase-api/internal/jobs"
	"github.com/straye-as/purchase-api/internal/logger"
	"github.com/straye-as/purchase-api/internal/notify"
	"github.com/straye-as/purchase-api/internal/realtime"
	"github.com/straye-as/purchase-api/internal/repository"
	"github.com/straye-as/purchase-api/internal/service"
	"github.com/straye-as/purchase-api/internal/storage"
	"go.uber.org/zap"
)

// @title Straye Purchase API
// @version 1.0
// @description Purchase request approval workflow: submission, approval, purchasing and reporting

// @contact.name API Support
// @contact.email support@straye.io

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Session token
// @Security BearerAuth

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load basic configuration first (for logging setup)
	basicCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(&basicCfg.Logging, &basicCfg.App)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting application",
		zap.String("app", basicCfg.App.Name),
		zap.String("env", basicCfg.App.Environment),
		zap.Int("port", basicCfg.App.Port),
	)

	if basicCfg.App.Environment == "development" || basicCfg.App.Environment == "" {
		docs.SwaggerInfo.Host = fmt.Sprintf("localhost:%d", basicCfg.App.Port)
	} else if basicCfg.App.BaseURL != "" {
		docs.SwaggerInfo.Host = hostOf(basicCfg.App.BaseURL)
	}

	// In staging/production secrets come from Azure Key Vault
	cfg, err := config.LoadWithSecrets(ctx, log)
	if err != nil {
		return fmt.Errorf("failed to load secrets: %w", err)
	}

	db, err := database.NewDatabase(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// Storage only backs the email and report archive
	var archive storage.Storage
	if cfg.Email.Archive {
		archive, err = storage.NewStorage(&cfg.Storage, log)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		log.Info("archive storage initialized", zap.String("mode", cfg.Storage.Mode))
	}

	sessions, closeSessions, err := newSessionStore(ctx, &cfg.Session, log)
	if err != nil {
		return err
	}
	defer closeSessions()

	// Repositories
	userRepo := repository.NewUserRepository(db)
	vendorRepo := repository.NewVendorRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	itemRepo := repository.NewRequestItemRepository(db)
	historyRepo := repository.NewHistoryRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	domainRepo := repository.NewAllowedDomainRepository(db)
	invitationRepo := repository.NewInvitationRepository(db)

	var txManager repository.TransactionManager
	if cfg.Database.Transactional {
		txManager = repository.NewTransactionManager(db)
	} else {
		txManager = repository.NewSequentialRunner()
		log.Warn("lifecycle writes are not transactional; a failed step can leave partial state")
	}

	// Live push
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	hub := realtime.NewHub(middleware.OriginPolicy(&cfg.CORS, cfg.App.Environment, log), log)
	go hub.Run(hubCtx)

	// Email
	renderer, err := notify.NewRenderer(cfg.Email.From, cfg.Email.FromName, cfg.App.BaseURL)
	if err != nil {
		return fmt.Errorf("failed to load email templates: %w", err)
	}
	sender, err := notify.NewSender(&cfg.Email, log)
	if err != nil {
		return fmt.Errorf("failed to initialize email sender: %w", err)
	}
	outbox := notify.NewOutbox(notify.OutboxConfig{
		Workers:   cfg.Email.Workers,
		QueueSize: cfg.Email.QueueSize,
	}, renderer, sender, archive, log)

	// Services
	tokens := auth.NewTokenService(&cfg.Auth)
	dispatcher := service.NewDispatcher(userRepo, notificationRepo, outbox, hub, log)
	requestService := service.NewRequestService(
		requestRepo,
		itemRepo,
		vendorRepo,
		userRepo,
		service.NewLedger(historyRepo),
		dispatcher,
		txManager,
		log,
	)
	authService := service.NewAuthService(
		userRepo,
		repository.NewPasswordResetRepository(db),
		txManager,
		tokens,
		sessions,
		outbox,
		time.Duration(cfg.Auth.PasswordResetTTL)*time.Minute,
		log,
	)
	userService := service.NewUserService(userRepo, domainRepo, log)
	invitationService := service.NewInvitationService(invitationRepo, userRepo, txManager, log)
	vendorService := service.NewVendorService(vendorRepo, log)
	domainService := service.NewAllowedDomainService(domainRepo, log)
	notificationService := service.NewNotificationService(notificationRepo, log)
	reportService := service.NewReportService(requestRepo, archive, log)

	// Middleware
	authMiddleware := auth.NewMiddleware(tokens, sessions, userRepo, log)
	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit, log)

	rt := router.NewRouter(cfg, log, db, authMiddleware, rateLimiter, router.Handlers{
		Auth:          handler.NewAuthHandler(authService, log),
		Requests:      handler.NewRequestHandler(requestService, log),
		Vendors:       handler.NewVendorHandler(vendorService, log),
		Notifications: handler.NewNotificationHandler(notificationService, log),
		Reports:       handler.NewReportHandler(reportService, log),
		Users:         handler.NewUserHandler(userService, log),
		Invitations:   handler.NewInvitationHandler(invitationService, log),
		Domains:       handler.NewAllowedDomainHandler(domainService, log),
		WebSocket:     handler.NewWebSocketHandler(hub, log),
	})

	// Background jobs
	scheduler := jobs.NewScheduler(log)
	sweep := jobs.NewInvitationSweepJob(invitationService, log, time.Minute)
	if err := sweep.Register(scheduler, cfg.Jobs.InvitationSweepCron); err != nil {
		log.Error("failed to register invitation sweep", zap.Error(err))
	} else {
		scheduler.Start()
		log.Info("scheduler started",
			zap.Strings("jobs", scheduler.GetJobNames()),
			zap.String("invitation_sweep_cron", cfg.Jobs.InvitationSweepCron),
		)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      rt.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))

		<-scheduler.Stop().Done()
		log.Info("scheduler stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shutdown gracefully", zap.Error(err))
			return err
		}

		// Lifecycle writes are finished; drain the emails they queued
		if err := outbox.Close(shutdownCtx); err != nil {
			log.Warn("email outbox did not drain", zap.Error(err))
		}
		stopHub()

		log.Info("server stopped gracefully")
	}

	return nil
}

// newSessionStore picks the session registry. The returned func releases it.
func newSessionStore(ctx context.Context, cfg *config.SessionConfig, log *zap.Logger) (auth.SessionStore, func(), error) {
	if cfg.Store != "redis" {
		log.Info("session store initialized", zap.String("store", "memory"))
		return auth.NewMemorySessionStore(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info("session store initialized", zap.String("store", "redis"), zap.String("addr", cfg.RedisAddr))
	return auth.NewRedisSessionStore(rdb, cfg.KeyPrefix), func() { _ = rdb.Close() }, nil
}

func hostOf(baseURL string) string {
	for _, prefix := range []string{"https://", "http://"} {
		if len(baseURL) > len(prefix) && baseURL[:len(prefix)] == prefix {
			baseURL = baseURL[len(prefix):]
			break
		}
	}
	for i, c := range baseURL {
		if c == '/' {
			return baseURL[:i]
		}
	}
	return baseURL
}
