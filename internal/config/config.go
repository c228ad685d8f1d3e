package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration (env + Viper).
type Config struct {
	Env                 string
	Port                string
	DatabaseURL         string // empty: fall back to the embedded SQLite store at SQLitePath
	SQLitePath          string
	RedisURL            string
	JWTSecret           string
	JWTExpire           time.Duration
	ClientURL           string // frontend origin; used for CORS and checkout redirect URLs
	StripeSecretKey     string
	StripeWebhookSecret string
	SendinblueAPIKey    string // SENDINBLUE_API_KEY for transactional email (Brevo)
	MailFrom            string
	KafkaBrokers        []string
	KafkaTopic          string
	ExpirySweepSchedule string // cron spec for the certification expiry sweep
	HealthAdminKey      string
	SupabaseURL         string // object storage for listing images and documents
	SupabaseSecretKey   string
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("PORT", "5000")
	viper.SetDefault("SQLITE_PATH", "carbonease.db")
	viper.SetDefault("JWT_EXPIRE", "168h")
	viper.SetDefault("CLIENT_URL", "http://localhost:3000")
	viper.SetDefault("MAIL_FROM", "noreply@carbonease.com")
	viper.SetDefault("KAFKA_TOPIC", "carbonease.transactions")
	viper.SetDefault("EXPIRY_SWEEP_SCHEDULE", "@every 1h")

	env := viper.GetString("NODE_ENV")
	if env == "" {
		env = viper.GetString("APP_ENV")
	}
	if env == "" {
		env = "development"
	}

	jwtExpire, err := parseExpire(viper.GetString("JWT_EXPIRE"))
	if err != nil {
		return nil, err
	}

	return &Config{
		Env:                 env,
		Port:                viper.GetString("PORT"),
		DatabaseURL:         viper.GetString("DATABASE_URL"),
		SQLitePath:          viper.GetString("SQLITE_PATH"),
		RedisURL:            viper.GetString("REDIS_URL"),
		JWTSecret:           viper.GetString("JWT_SECRET"),
		JWTExpire:           jwtExpire,
		ClientURL:           strings.TrimRight(viper.GetString("CLIENT_URL"), "/"),
		StripeSecretKey:     viper.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: viper.GetString("STRIPE_WEBHOOK_SECRET"),
		SendinblueAPIKey:    viper.GetString("SENDINBLUE_API_KEY"),
		MailFrom:            viper.GetString("MAIL_FROM"),
		KafkaBrokers:        splitList(viper.GetString("KAFKA_BROKERS")),
		KafkaTopic:          viper.GetString("KAFKA_TOPIC"),
		ExpirySweepSchedule: viper.GetString("EXPIRY_SWEEP_SCHEDULE"),
		HealthAdminKey:      viper.GetString("HEALTH_ADMIN_KEY"),
		SupabaseURL:         viper.GetString("SUPABASE_URL"),
		SupabaseSecretKey:   viper.GetString("SUPABASE_SECRET_KEY"),
	}, nil
}

// parseExpire accepts Go durations and the "7d" day shorthand.
func parseExpire(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		d, err := time.ParseDuration(strings.TrimSuffix(s, "d") + "h")
		if err != nil {
			return 0, err
		}
		return d * 24, nil
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
