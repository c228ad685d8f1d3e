package router

import (
	authsvc "carbonease-backend/internal/application/auth"
	creditsvc "carbonease-backend/internal/application/credits"
	"carbonease-backend/internal/application/emails"
	healthsvc "carbonease-backend/internal/application/health"
	paysvc "carbonease-backend/internal/application/payments"
	txsvc "carbonease-backend/internal/application/transactions"
	uploadsvc "carbonease-backend/internal/application/uploads"
	"carbonease-backend/internal/config"
	"carbonease-backend/internal/domain"
	"carbonease-backend/internal/infrastructure/certificates"
	"carbonease-backend/internal/infrastructure/events"
	"carbonease-backend/internal/infrastructure/gateway"
	"carbonease-backend/internal/infrastructure/metrics"
	"carbonease-backend/internal/infrastructure/store"
	authhandler "carbonease-backend/internal/interfaces/handlers/auth"
	credithandler "carbonease-backend/internal/interfaces/handlers/credits"
	healthhandler "carbonease-backend/internal/interfaces/handlers/health"
	payhandler "carbonease-backend/internal/interfaces/handlers/payments"
	txhandler "carbonease-backend/internal/interfaces/handlers/transactions"
	uploadhandler "carbonease-backend/internal/interfaces/handlers/uploads"
	"carbonease-backend/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type gormDBPinger struct {
	db *gorm.DB
}

func (g *gormDBPinger) Ping() error {
	if g == nil || g.db == nil {
		return nil
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Deps are the connections and adapters the app is assembled from.
// Rdb, Emails, Events and Metrics are optional. Storage defaults to the
// Supabase signer built from config.
type Deps struct {
	DB       *gorm.DB
	Rdb      *redis.Client
	Gateway  gateway.Gateway
	Verifier gateway.Verifier
	Emails   emails.Sender
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Storage  uploadsvc.Signer
}

// Services exposes the assembled services to the process entry point.
type Services struct {
	Auth         *authsvc.Service
	Credits      *creditsvc.Service
	Transactions *txsvc.Service
	Payments     *paysvc.Service
}

func CreateApp(cfg *config.Config, d Deps) (*fiber.App, *Services, error) {
	certNumber, err := certificates.NewNumberGenerator()
	if err != nil {
		return nil, nil, err
	}

	st := store.New(d.DB)
	tokens := authsvc.NewTokens(cfg.JWTSecret, cfg.JWTExpire)
	auth := authsvc.NewService(st, d.Rdb, d.Emails, tokens)
	credits := creditsvc.NewService(st, d.Metrics)
	payments := paysvc.NewService(st, d.Gateway, d.Verifier, d.Emails, d.Events, d.Metrics, cfg.ClientURL)
	transactions := txsvc.NewService(st, d.Metrics, d.Events, certNumber)
	transactions.Refunds = payments
	storage := d.Storage
	if storage == nil {
		storage = &uploadsvc.SupabaseSigner{BaseURL: cfg.SupabaseURL, SecretKey: cfg.SupabaseSecretKey}
	}
	uploads, err := uploadsvc.NewService(storage, cfg.SupabaseURL)
	if err != nil {
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage:   true,
		ErrorHandler:            middleware.ErrorHandler,
		EnableTrustedProxyCheck: true,
	})

	// The webhook needs the untouched body and no CORS or auth.
	ph := &payhandler.Handlers{Service: payments}
	app.Post("/api/payments/webhook", ph.Webhook)

	app.Use(middleware.Tracing())
	app.Use(middleware.RouteLogger())
	app.Use(middleware.CORS(middleware.CORSConfig{
		ClientURL:  cfg.ClientURL,
		AllowLocal: !cfg.IsProduction(),
	}))
	if d.Rdb != nil {
		app.Use(middleware.HealthMarker(d.Rdb))
	}
	if d.Metrics != nil {
		app.Use(d.Metrics.Middleware())
		app.Get("/metrics", d.Metrics.Handler())
	}

	collector := &healthsvc.Collector{Rdb: d.Rdb, DB: &gormDBPinger{db: d.DB}}
	if cfg.IsProduction() && cfg.ClientURL != "" {
		collector.Targets = map[string]string{"frontend": cfg.ClientURL}
	}
	hh := &healthhandler.Handlers{
		Collector:      collector,
		Service:        "carbonease-api",
		HealthAdminKey: cfg.HealthAdminKey,
	}
	app.Get("/health", hh.JSON)
	app.Get("/health/errors", hh.Errors)
	app.Post("/health/reset", hh.Reset)

	protect := middleware.Protect(auth)
	api := app.Group("/api")

	ah := &authhandler.Handlers{Service: auth, IsProduction: cfg.IsProduction()}
	ag := api.Group("/auth")
	ag.Post("/register", ah.Register)
	ag.Post("/login", ah.Login)
	ag.Post("/forgot-password", ah.ForgotPassword)
	ag.Put("/reset-password/:token", ah.ResetPassword)
	ag.Get("/verify-email/:token", ah.VerifyEmail)
	ag.Post("/logout", protect, ah.Logout)
	ag.Get("/me", protect, ah.Me)
	ag.Put("/profile", protect, ah.UpdateProfile)
	ag.Put("/change-password", protect, ah.ChangePassword)
	ag.Post("/resend-verification", protect, ah.ResendVerification)

	ch := &credithandler.Handlers{Service: credits}
	cg := api.Group("/credits")
	cg.Get("/", ch.Browse)
	cg.Get("/energy-types", ch.EnergyTypes)
	cg.Get("/certification-standards", ch.CertificationStandards)
	cg.Get("/countries", ch.Countries)
	cg.Get("/seller/my-credits", protect, middleware.Authorize(domain.RoleSeller), ch.MyCredits)
	cg.Get("/seller/stats", protect, middleware.Authorize(domain.RoleSeller), ch.SellerStats)
	cg.Get("/:id", middleware.OptionalAuth(auth), ch.Get)
	cg.Post("/", protect, middleware.Authorize(domain.RoleSeller), ch.Create)
	cg.Put("/:id/verify", protect, middleware.Authorize(domain.RoleAdmin), ch.Verify)
	cg.Put("/:id", protect, ch.Update)
	cg.Delete("/:id", protect, ch.Delete)

	th := &txhandler.Handlers{Service: transactions}
	tg := api.Group("/transactions", protect)
	tg.Post("/", middleware.Authorize(domain.RoleBuyer), th.Create)
	tg.Get("/", th.List)
	tg.Get("/stats", th.Stats)
	tg.Get("/:id", th.Get)
	tg.Put("/:id/status", th.UpdateStatus)
	tg.Put("/:id/cancel", th.Cancel)
	tg.Post("/:id/review", th.Review)
	tg.Get("/:id/certificate/:certId", th.DownloadCertificate)
	tg.Get("/:id/certificate/:certId/pdf", th.CertificatePDF)

	pg := api.Group("/payments", protect)
	pg.Post("/create-checkout-session", middleware.Authorize(domain.RoleBuyer), ph.CreateCheckoutSession)
	pg.Get("/status/:transactionId", ph.Status)
	pg.Post("/refund", middleware.Authorize(domain.RoleSeller, domain.RoleAdmin), ph.Refund)

	uh := &uploadhandler.Handlers{Service: uploads}
	ug := api.Group("/uploads", protect, middleware.Authorize(domain.RoleSeller))
	ug.Post("/credit-image", uh.CreditImage)
	ug.Post("/credit-document", uh.CreditDocument)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Route " + c.OriginalURL() + " not found",
		})
	})

	return app, &Services{Auth: auth, Credits: credits, Transactions: transactions, Payments: payments}, nil
}
