package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"storefront/internal/auth"
	"storefront/internal/cache"
	"storefront/internal/config"
	"storefront/internal/database"
	"storefront/internal/events"
	"storefront/internal/handlers"
	"storefront/internal/logger"
	"storefront/internal/mailer"
	"storefront/internal/payment"
	"storefront/internal/pricing"
	"storefront/internal/server"
	"storefront/internal/storage"
)

const version = "1.0.0"

func main() {
	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	cfg := config.AppEnv

	logger.Setup(cfg.LogLevel, !cfg.IsProduction())
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := database.Connect(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatal().Err(err).Msg("mongo connect failed")
	}
	db := client.Database(cfg.DBName)
	log.Info().Str("db", db.Name()).Msg("mongo connected")

	if err := database.EnsureIndexes(ctx, db); err != nil {
		log.Warn().Err(err).Msg("index setup incomplete")
	}

	store := connectCache(ctx, cfg)

	images, err := imageStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("image storage setup failed")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		publisher = events.NewKafkaPublisher(brokers, cfg.KafkaTopic)
		log.Info().Strs("brokers", brokers).Str("topic", cfg.KafkaTopic).Msg("kafka events enabled")
	}

	var gateway payment.Gateway = payment.Disabled{}
	if cfg.StripeSecretKey != "" {
		gateway = payment.NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	} else {
		log.Warn().Msg("STRIPE_SECRET_KEY not set, card payments disabled")
	}

	var mail mailer.Mailer = mailer.LogMailer{}
	if cfg.SMTPHost != "" {
		mail = mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	}

	deps := &handlers.Deps{
		DB:         db,
		Cache:      store,
		Issuer:     auth.NewIssuer(cfg.JWTSecret, cfg.AccessTokenTTL()),
		Denylist:   auth.NewDenylist(store),
		RefreshTTL: cfg.RefreshTokenTTL(),
		Payments:   gateway,
		Images:     images,
		Notifier:   mailer.NewNotifier(mail, cfg.FrontendURL),
		Events:     publisher,
		Pricing: pricing.Rules{
			TaxRate:               cfg.TaxRate,
			ShippingFlatRate:      cfg.ShippingFlatRate,
			FreeShippingThreshold: cfg.FreeShippingThreshold,
		},
		Currency: cfg.Currency,
		CacheTTL: cfg.CacheTTL(),
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := server.Options{
		Deps:           deps,
		Logger:         logger.Component("http"),
		Registry:       registry,
		AllowedOrigins: cfg.AllowedOrigins(),
		RateLimit:      cfg.RateLimitRequests,
		AuthRateLimit:  cfg.AuthRateLimitRequests,
		RateWindow:     cfg.RateLimitWindow(),
		Version:        version,
		Started:        time.Now(),
	}
	if cfg.StorageDriver != "s3" {
		opts.UploadDir = cfg.UploadDir
	}
	router, err := server.NewRouter(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("router setup failed")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.AppEnv).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	if err := publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("event publisher close failed")
	}
	if err := client.Disconnect(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("mongo disconnect failed")
	}
}

// connectCache returns a Redis backed store, or a no-op store when Redis is
// unreachable so the API keeps serving uncached.
func connectCache(ctx context.Context, cfg config.Config) cache.Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	store := cache.New(rdb, "storefront")

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, caching disabled")
		_ = rdb.Close()
		return cache.Noop{}
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("redis connected")
	return store
}

func imageStore(ctx context.Context, cfg config.Config) (storage.ImageStore, error) {
	if cfg.StorageDriver == "s3" {
		return storage.NewS3Store(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.PublicBaseURL)
	}
	return storage.NewLocalStore(cfg.UploadDir, cfg.PublicBaseURL), nil
}
