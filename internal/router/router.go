package router

import (
	"log"
	"net/http"

	"pesagate/config"
	"pesagate/internal/events"
	"pesagate/internal/handler"
	"pesagate/internal/idempotency"
	"pesagate/internal/middleware"
	"pesagate/internal/repository"
	"pesagate/internal/service"
	"pesagate/internal/ws"
	"pesagate/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// App is the wired service. Close it after the HTTP server has shut down.
type App struct {
	Handler  http.Handler
	Engine   *gin.Engine
	Workflow *service.PaymentWorkflow
	Hub      *ws.Hub

	closers []func() error
	stop    chan struct{}
}

func (a *App) Close() {
	a.Workflow.Close()
	close(a.stop)
	for _, fn := range a.closers {
		if err := fn(); err != nil {
			log.Printf("[APP] close: %v", err)
		}
	}
}

// NewProcessor selects the processor for cfg.Pesapal.Environment.
func NewProcessor(cfg *config.PesapalConfig) payment.Processor {
	if cfg.Environment == config.EnvStub {
		log.Printf("[PESAPAL] using in-process stub processor")
		return payment.NewStubProcessor(cfg.ReferencePrefix)
	}
	log.Printf("[PESAPAL] environment=%s base_url=%s", cfg.Environment, cfg.APIBaseURL())
	return payment.NewPesapal(payment.PesapalOptions{
		BaseURL:         cfg.APIBaseURL(),
		ConsumerKey:     cfg.ConsumerKey,
		ConsumerSecret:  cfg.ConsumerSecret,
		Timeout:         cfg.RequestTimeout,
		TokenAttempts:   cfg.TokenAttempts,
		TokenRetryDelay: cfg.TokenRetryDelay,
		ReferencePrefix: cfg.ReferencePrefix,
	})
}

func Setup(cfg *config.Config, db *gorm.DB) *App {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	app := &App{stop: make(chan struct{})}

	// Repositories
	paymentRepo := repository.NewPaymentRepository(db)
	ipnRepo := repository.NewIPNEventRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	var dedupe idempotency.Store
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		app.closers = append(app.closers, rdb.Close)
		dedupe = idempotency.NewRedisStore(rdb, cfg.Redis.DedupeTTL)
		log.Printf("[IPN] dedupe via redis %s", cfg.Redis.Addr)
	} else {
		dedupe = idempotency.NewMemoryStore(cfg.Redis.DedupeTTL)
	}

	// Status fan-out
	app.Hub = ws.NewHub()
	sinks := []service.StatusSink{app.Hub}
	if fcmSvc := service.NewFCMService(cfg.Firebase.ServiceAccountPath); fcmSvc != nil {
		log.Printf("[FCM] Push notifications enabled")
		sinks = append(sinks, fcmSvc)
	} else if cfg.Firebase.ServiceAccountPath != "" {
		log.Printf("[FCM] Push notifications disabled: failed to init (check service account file)")
	} else {
		log.Printf("[FCM] Push notifications disabled: set PESAGATE_FIREBASE_SERVICE_ACCOUNT_PATH to enable")
	}
	if len(cfg.Kafka.Brokers) > 0 {
		w := events.NewWriter(cfg.Kafka.Brokers)
		app.closers = append(app.closers, w.Close)
		sinks = append(sinks, events.NewPublisher(w, cfg.Kafka.Topic))
		log.Printf("[KAFKA] status events to topic %s", cfg.Kafka.Topic)
	}

	// Services
	app.Workflow = service.NewPaymentWorkflow(service.WorkflowDeps{
		Processor: NewProcessor(&cfg.Pesapal),
		Orders:    paymentRepo,
		IPNEvents: ipnRepo,
		Dedupe:    dedupe,
		Notifier:  service.NewStatusNotifier(sinks...),
	}, service.WorkflowOptions{
		IPNURL:              cfg.Pesapal.IPNURL,
		IPNNotificationType: cfg.Pesapal.IPNNotificationType,
		Currency:            cfg.Pesapal.Currency,
		CountryCode:         cfg.Pesapal.CountryCode,
		Description:         cfg.Pesapal.Description,
		BillingLine1:        cfg.Pesapal.BillingLine1,
		PollAttempts:        cfg.Workflow.PollAttempts,
		PollInterval:        cfg.Workflow.PollInterval,
		Async:               cfg.Workflow.Mode == config.ModeAsync,
	})
	log.Printf("[WORKFLOW] %s", app.Workflow)
	authSvc := service.NewAuthService(&cfg.Admin, auditRepo)

	// Handlers
	paymentHandler := handler.NewPaymentHandler(app.Workflow)
	ipnHandler := handler.NewIPNHandler(app.Workflow, auditRepo)
	adminHandler := handler.NewAdminHandler(authSvc, app.Workflow, paymentRepo, ipnRepo)

	limiter := middleware.NewInMemoryRateLimiter(cfg.Server.RatePerMinute)
	go limiter.Cleanup(app.stop)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RateLimit(limiter))

	authRequired := middleware.AuthRequired(&cfg.Admin)
	adminRequired := middleware.AdminRequired(&cfg.Admin)

	r.GET("/", handler.Health)
	r.POST("/submit-order", paymentHandler.SubmitOrder)
	r.GET("/transaction-status", paymentHandler.TransactionStatus)
	r.POST("/register-ipn", authRequired, adminRequired, ipnHandler.RegisterIPN)
	r.GET("/ipn", ipnHandler.Callback)
	r.POST("/ipn", ipnHandler.Callback)
	r.GET("/ws/transaction-status", ws.UpgradeStatusWS(app.Hub))

	r.POST("/admin/login", adminHandler.Login)
	admin := r.Group("/admin", authRequired, adminRequired)
	{
		admin.GET("/access-token", adminHandler.AccessToken)
		admin.GET("/orders", adminHandler.ListOrders)
		admin.GET("/orders/:trackingID", adminHandler.GetOrder)
	}

	app.Engine = r
	app.Handler = cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	})(r)
	return app
}
