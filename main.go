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
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"

	"ms-marketplace/internal/admin"
	"ms-marketplace/internal/admin/admin_api"
	"ms-marketplace/internal/analytics"
	analytics_api "ms-marketplace/internal/analytics/api"
	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/audit/audit_api"
	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/auth/auth_api"
	"ms-marketplace/internal/config"
	"ms-marketplace/internal/database"
	"ms-marketplace/internal/database/migrations"
	"ms-marketplace/internal/disputes"
	disputedb "ms-marketplace/internal/disputes/db"
	"ms-marketplace/internal/disputes/disputes_api"
	"ms-marketplace/internal/events"
	eventdb "ms-marketplace/internal/events/db"
	"ms-marketplace/internal/events/events_api"
	"ms-marketplace/internal/kafka"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/metrics"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/order"
	orderdb "ms-marketplace/internal/order/db"
	"ms-marketplace/internal/order/order_api"
	rediswrap "ms-marketplace/internal/order/redis"
	"ms-marketplace/internal/organizers"
	"ms-marketplace/internal/organizers/organizers_api"
	"ms-marketplace/internal/payment"
	"ms-marketplace/internal/reconciliation"
	recondb "ms-marketplace/internal/reconciliation/db"
	"ms-marketplace/internal/reconciliation/reconciliation_api"
	"ms-marketplace/internal/sse"
	ticketdb "ms-marketplace/internal/tickets/db"
	qr "ms-marketplace/internal/tickets/qr_genrator"
	tickets "ms-marketplace/internal/tickets/service"
	"ms-marketplace/internal/tickets/template"
	"ms-marketplace/internal/tickets/ticket_api"
	"ms-marketplace/internal/users"
	"ms-marketplace/internal/utils"
	"ms-marketplace/internal/validation"
	validationdb "ms-marketplace/internal/validation/db"
	"ms-marketplace/internal/validation/validation_api"
)

const (
	completerInterval = 15 * time.Minute
	completionGrace   = 6 * time.Hour
	shutdownTimeout   = 10 * time.Second
)

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return client, nil
}

func newGateway(cfg *config.Config, log *logger.Logger) (payment.Gateway, error) {
	var gw payment.Gateway
	switch cfg.Payment.Provider {
	case "stripe":
		sg, err := payment.NewStripeGateway(cfg.Payment.StripeSecretKey, cfg.Payment.StripeWebhookSecret, cfg.Payment.ClientBaseURL, log)
		if err != nil {
			return nil, err
		}
		gw = sg
	case "mock":
		log.Warn("PAYMENT", "Using the mock payment gateway")
		mock := payment.NewMockGateway()
		mock.WebhookSecret = cfg.Payment.StripeWebhookSecret
		gw = mock
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Payment.Provider)
	}
	return payment.NewRetryingGateway(gw, cfg.Payment.GatewayMaxAttempts, cfg.Payment.GatewayBackoff, log), nil
}

func healthHandler(bunDB *bun.DB, rdb *redis.Client, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{"database": "ok", "redis": "ok"}
		status := http.StatusOK
		if err := bunDB.PingContext(ctx); err != nil {
			log.Error("HEALTH", fmt.Sprintf("Database ping failed: %v", err))
			checks["database"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error("HEALTH", fmt.Sprintf("Redis ping failed: %v", err))
			checks["redis"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
		utils.WriteJSON(w, status, map[string]interface{}{
			"status": http.StatusText(status),
			"checks": checks,
			"time":   time.Now().UTC(),
		})
	}
}

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()

	log, err := logger.New(cfg.Logging.Dir, cfg.Logging.Service)
	if err != nil {
		log = logger.NewLogger()
		log.Warn("APP", fmt.Sprintf("File logging disabled: %v", err))
	}
	defer log.Close()

	if envErr != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}
	log.Info("APP", "Starting marketplace service initialization")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB, cfg.Database.MigrationsDir, log)
		if err := runner.Up(); err != nil {
			log.Fatal("MIGRATE", fmt.Sprintf("Migrations failed: %v", err))
		}
		runner.Close()
	}

	redisClient, err := connectRedis(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal("REDIS", err.Error())
	}
	defer redisClient.Close()
	holds := rediswrap.NewRedis(redisClient, log)
	holds.EnableExpiryEvents(ctx)

	var publisher kafka.Publisher = kafka.NopPublisher{}
	if cfg.Kafka.Enabled {
		topics := []string{
			cfg.Kafka.Topics.OrderCreated,
			cfg.Kafka.Topics.OrderCompleted,
			cfg.Kafka.Topics.OrderFailed,
			cfg.Kafka.Topics.TicketsVoided,
		}
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer producer.Close()
		publisher = producer
	} else {
		log.Warn("KAFKA", "Kafka disabled, domain events are dropped")
	}

	gateway, err := newGateway(cfg, log)
	if err != nil {
		log.Fatal("PAYMENT", err.Error())
	}

	// ---------------- SERVICES ----------------

	recorder := audit.NewRecorder(bunDB, log)
	userStore := &users.DB{Bun: bunDB}
	emitter := sse.NewEventEmitter()
	qrGen := qr.NewQRGenerator(cfg.Tickets.QRSecret)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	authService := auth.NewService(userStore, tokens, auth.NewRefreshStore(redisClient), recorder, log)
	authn := &auth.Authenticator{Tokens: tokens, Logger: log}
	if cfg.Auth.OIDCIssuer != "" {
		verifier, err := auth.NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuer, userStore)
		if err != nil {
			log.Fatal("AUTH", fmt.Sprintf("OIDC discovery failed: %v", err))
		}
		authn.OIDC = verifier
	}

	ticketStore := &ticketdb.DB{Bun: bunDB}
	ticketService := tickets.NewTicketService(ticketStore, qrGen, template.NewTicketPDFGenerator(cfg.Tickets.PDFFontPath),
		recorder, publisher, cfg.Kafka.Topics.TicketsVoided, log, cfg.Tickets.CodeByteSize)
	ticketCounts := tickets.NewTicketCountService(ticketStore, log)

	orderService := order.NewOrderService(&orderdb.DB{Bun: bunDB}, holds, gateway, ticketService, userStore,
		publisher, recorder, log, order.OptionsFromConfig(cfg))
	orderService.Notifier = emitter

	eventService := events.NewEventService(&eventdb.DB{Bun: bunDB}, userStore, orderService, recorder, log, cfg.Payment.Currency)
	analyticsService := analytics.NewService(analytics.NewDB(bunDB))
	validationService := validation.NewValidationService(&validationdb.DB{Bun: bunDB}, qrGen, userStore, recorder, emitter, log)
	reconService := reconciliation.NewReconciliationService(&recondb.DB{Bun: bunDB}, ticketService, recorder, log, cfg.Reconciliation.Concurrency)
	disputeService := disputes.NewDisputeService(&disputedb.DB{Bun: bunDB}, orderService, recorder, log)
	organizerService := organizers.NewService(userStore, gateway, validationService, recorder, log,
		organizers.ParseBanks(cfg.Payment.Banks), cfg.Payment.PlatformFeePercent)
	adminService := admin.NewService(userStore, analyticsService, recorder, log)

	// ---------------- HANDLERS ----------------

	authHandler := auth_api.NewHandler(authService, log)
	orderHandler := order_api.NewHandler(orderService, emitter, log)
	ticketHandler := ticket_api.NewHandler(ticketService, ticketCounts, log)
	eventsHandler := events_api.NewHandler(eventService, log)
	analyticsHandler := analytics_api.NewHandler(analyticsService, log)
	validationHandler := validation_api.NewHandler(validationService, emitter,
		auth.NewRateLimiter(cfg.Server.ScanRatePerSec, cfg.Server.ScanBurst), log)
	reconHandler := reconciliation_api.NewHandler(reconService, log)
	auditHandler := audit_api.NewHandler(recorder, log)
	disputesHandler := disputes_api.NewHandler(disputeService, log)
	organizerHandler := organizers_api.NewHandler(organizerService, log)
	adminHandler := admin_api.NewHandler(adminService, log)

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(metrics.Middleware)
	r.Use(logger.RequestLogger(log))
	r.Use(audit.RequestMeta)

	r.Handle("/metrics", metrics.Handler())
	r.Get("/health", healthHandler(bunDB, redisClient, log))

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			authHandler.RegisterPublicRoutes(r)
			r.Group(func(r chi.Router) {
				r.Use(authn.Middleware)
				authHandler.RegisterRoutes(r)
			})
		})
		r.Route("/payments", orderHandler.RegisterWebhook)

		r.Route("/events", func(r chi.Router) {
			r.Use(authn.Optional)
			analyticsHandler.RegisterRoutes(r)
			eventsHandler.RegisterRoutes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(authn.Middleware)

			r.Route("/orders", orderHandler.RegisterRoutes)
			r.Route("/tickets", func(r chi.Router) {
				orderHandler.RegisterTicketRoutes(r)
				ticketHandler.RegisterRoutes(r)
			})
			r.Route("/validate", validationHandler.RegisterRoutes)
			r.Route("/disputes", disputesHandler.RegisterRoutes)
			r.Route("/organizer", organizerHandler.RegisterRoutes)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(log, models.RoleAdmin))
				r.Route("/transactions", orderHandler.RegisterAdminRoutes)
				r.Route("/reconciliation", reconHandler.RegisterRoutes)
				r.Route("/audit", auditHandler.RegisterRoutes)
				r.Route("/admin", func(r chi.Router) {
					adminHandler.RegisterRoutes(r)
					r.Get("/banks", organizerHandler.Banks)
					r.Route("/organizers", organizerHandler.RegisterAdminRoutes)
					r.Route("/validators", validationHandler.RegisterAdminRoutes)
				})
			})
		})
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// ---------------- BACKGROUND WORKERS ----------------

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		holds.SubscribeExpiries(gctx, func(ctx context.Context, orderID string) {
			if _, err := orderService.ExpireOrder(ctx, orderID); err != nil {
				log.Error("ORDER", fmt.Sprintf("Failed to expire order %s: %v", orderID, err))
			}
		})
		return nil
	})
	g.Go(func() error {
		orderService.RunSweeper(gctx, cfg.Payment.SweepInterval)
		return nil
	})
	g.Go(func() error {
		reconService.RunScheduler(gctx, cfg.Reconciliation.Interval, cfg.Reconciliation.AutoFix)
		return nil
	})
	g.Go(func() error {
		eventService.RunCompleter(gctx, completerInterval, completionGrace)
		return nil
	})
	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.OrderCompleted, cfg.Kafka.GroupID, log)
		g.Go(func() error {
			defer consumer.Close()
			if err := consumer.Start(gctx, ticketCounts.HandleOrderCompleted); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("KAFKA", fmt.Sprintf("Ticket count consumer stopped: %v", err))
			}
			return nil
		})
	}
	g.Go(func() error {
		log.Info("HTTP", fmt.Sprintf("Marketplace service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("APP", fmt.Sprintf("Service stopped with error: %v", err))
		os.Exit(1)
	}
	log.Info("APP", "Marketplace service shutdown complete")
}
