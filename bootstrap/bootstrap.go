package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"carbonease-backend/internal/application/emails"
	"carbonease-backend/internal/config"
	"carbonease-backend/internal/infrastructure/database"
	"carbonease-backend/internal/infrastructure/events"
	"carbonease-backend/internal/infrastructure/gateway"
	"carbonease-backend/internal/infrastructure/metrics"
	"carbonease-backend/internal/interfaces/router"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// SetupLogging writes JSON logs in production and console output elsewhere.
func SetupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.IsProduction() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

// OpenDatabase connects to Postgres when DATABASE_URL is set, otherwise the
// embedded SQLite file.
func OpenDatabase(cfg *config.Config) (*gorm.DB, error) {
	if cfg.DatabaseURL != "" {
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return db, nil
	}
	log.Warn().Str("path", cfg.SQLitePath).Msg("DATABASE_URL not set, using SQLite")
	db, err := database.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return db, nil
}

// Connect opens every backing service the app needs. The returned close
// func releases them.
func Connect(ctx context.Context, cfg *config.Config) (router.Deps, func(), error) {
	db, err := OpenDatabase(cfg)
	if err != nil {
		return router.Deps{}, nil, err
	}
	if err := database.AutoMigrate(db); err != nil {
		return router.Deps{}, nil, fmt.Errorf("migrate: %w", err)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return router.Deps{}, nil, fmt.Errorf("redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed, continuing")
		}
	} else {
		log.Warn().Msg("REDIS_URL not set: token revocation and traffic stats disabled")
	}

	var sender emails.Sender = emails.Nop{}
	if cfg.SendinblueAPIKey != "" {
		sender = emails.NewBrevoClient(cfg.SendinblueAPIKey, cfg.MailFrom, cfg.ClientURL)
	}

	var pub events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		pub = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	if cfg.StripeSecretKey == "" {
		log.Warn().Msg("STRIPE_SECRET_KEY not set: checkout and refunds will fail")
	}
	stripe := gateway.NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookSecret)

	deps := router.Deps{
		DB:       db,
		Rdb:      rdb,
		Gateway:  stripe,
		Verifier: stripe,
		Emails:   sender,
		Events:   pub,
		Metrics:  metrics.New(),
	}
	closeFn := func() {
		if err := pub.Close(); err != nil {
			log.Warn().Err(err).Msg("event publisher close")
		}
		if rdb != nil {
			_ = rdb.Close()
		}
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return deps, closeFn, nil
}

// New creates the Fiber app for Vercel serverless (api handler imports this package, not internal).
func New() (*fiber.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	SetupLogging(cfg)
	deps, _, err := Connect(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	app, _, err := router.CreateApp(cfg, deps)
	return app, err
}
