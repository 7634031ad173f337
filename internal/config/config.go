package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var AppEnv Config

type Config struct {
	Port     string `mapstructure:"PORT"`
	AppEnv   string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	MongoURI string `mapstructure:"MONGO_URI"`
	DBName   string `mapstructure:"DB_NAME"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	JWTSecret          string `mapstructure:"JWT_SECRET"`
	AccessTokenMinutes int    `mapstructure:"ACCESS_TOKEN_TTL"`
	RefreshTokenDays   int    `mapstructure:"REFRESH_TOKEN_TTL"`

	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	RateLimitRequests     int `mapstructure:"RATE_LIMIT_REQUESTS"`
	RateLimitWindowSecs   int `mapstructure:"RATE_LIMIT_WINDOW"`
	AuthRateLimitRequests int `mapstructure:"AUTH_RATE_LIMIT_REQUESTS"`
	CacheTTLSeconds       int `mapstructure:"CACHE_TTL"`

	TaxRate               float64 `mapstructure:"TAX_RATE"`
	ShippingFlatRate      float64 `mapstructure:"SHIPPING_FLAT_RATE"`
	FreeShippingThreshold float64 `mapstructure:"FREE_SHIPPING_THRESHOLD"`
	Currency              string  `mapstructure:"CURRENCY"`

	StripeSecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`

	StorageDriver string `mapstructure:"STORAGE_DRIVER"`
	UploadDir     string `mapstructure:"UPLOAD_DIR"`
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`
	AWSRegion     string `mapstructure:"AWS_REGION"`
	S3Bucket      string `mapstructure:"AWS_S3_BUCKET"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	MailFrom     string `mapstructure:"MAIL_FROM"`
	FrontendURL  string `mapstructure:"FRONTEND_URL"`

	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string `mapstructure:"KAFKA_TOPIC"`
}

var defaults = map[string]any{
	"PORT":                     "8080",
	"APP_ENV":                  "development",
	"LOG_LEVEL":                "info",
	"MONGO_URI":                "",
	"DB_NAME":                  "storefront",
	"REDIS_ADDR":               "localhost:6379",
	"REDIS_PASSWORD":           "",
	"REDIS_DB":                 0,
	"JWT_SECRET":               "",
	"ACCESS_TOKEN_TTL":         15,
	"REFRESH_TOKEN_TTL":        7,
	"CORS_ORIGINS":             "http://localhost:3000",
	"RATE_LIMIT_REQUESTS":      100,
	"RATE_LIMIT_WINDOW":        900,
	"AUTH_RATE_LIMIT_REQUESTS": 10,
	"CACHE_TTL":                300,
	"TAX_RATE":                 0.08,
	"SHIPPING_FLAT_RATE":       5.99,
	"FREE_SHIPPING_THRESHOLD":  50.0,
	"CURRENCY":                 "usd",
	"STRIPE_SECRET_KEY":        "",
	"STRIPE_WEBHOOK_SECRET":    "",
	"STORAGE_DRIVER":           "local",
	"UPLOAD_DIR":               "./public/uploads",
	"PUBLIC_BASE_URL":          "http://localhost:8080/public/uploads",
	"AWS_REGION":               "us-east-1",
	"AWS_S3_BUCKET":            "",
	"SMTP_HOST":                "",
	"SMTP_PORT":                587,
	"SMTP_USERNAME":            "",
	"SMTP_PASSWORD":            "",
	"MAIL_FROM":                "Storefront <no-reply@storefront.local>",
	"FRONTEND_URL":             "http://localhost:3000",
	"KAFKA_BROKERS":            "",
	"KAFKA_TOPIC":              "storefront.events",
}

// Load reads .env (when present) and the process environment into AppEnv.
func Load() error {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg(".env not loaded")
	}

	cfg, err := Read(viper.New())
	if err != nil {
		return err
	}
	AppEnv = cfg
	return nil
}

// Read resolves the configuration from v, which must not have been used for
// anything else.
func Read(v *viper.Viper) (Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.MongoURI = strings.TrimSpace(cfg.MongoURI)
	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	cfg.Currency = strings.ToLower(cfg.Currency)
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.MongoURI == "" {
		errs = append(errs, errors.New("MONGO_URI is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.TaxRate < 0 {
		errs = append(errs, errors.New("TAX_RATE must not be negative"))
	}
	if c.StorageDriver == "s3" && c.S3Bucket == "" {
		errs = append(errs, errors.New("AWS_S3_BUCKET is required when STORAGE_DRIVER=s3"))
	}
	return errors.Join(errs...)
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c Config) AccessTokenTTL() time.Duration {
	return positiveDuration(c.AccessTokenMinutes, 15, time.Minute)
}

func (c Config) RefreshTokenTTL() time.Duration {
	return positiveDuration(c.RefreshTokenDays, 7, 24*time.Hour)
}

func (c Config) RateLimitWindow() time.Duration {
	return positiveDuration(c.RateLimitWindowSecs, 900, time.Second)
}

func (c Config) CacheTTL() time.Duration {
	return positiveDuration(c.CacheTTLSeconds, 300, time.Second)
}

func (c Config) AllowedOrigins() []string {
	return splitList(c.CORSOrigins)
}

func (c Config) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

func positiveDuration(value, fallback int, unit time.Duration) time.Duration {
	if value > 0 {
		return time.Duration(value) * unit
	}
	return time.Duration(fallback) * unit
}

func splitList(raw string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
