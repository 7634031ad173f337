package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadAppliesDefaults(t *testing.T) {
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Read(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "storefront", cfg.DBName)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL())
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL())
	assert.InDelta(t, 0.08, cfg.TaxRate, 1e-9)
	assert.NoError(t, cfg.Validate())
}

func TestReadOverridesFromEnv(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL", "30")
	t.Setenv("CORS_ORIGINS", "https://shop.example, https://admin.example ,")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CURRENCY", "EUR")

	cfg, err := Read(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.AccessTokenTTL())
	assert.Equal(t, []string{"https://shop.example", "https://admin.example"}, cfg.AllowedOrigins())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers())
	assert.Equal(t, "eur", cfg.Currency)
}

func TestValidateReportsMissingSecrets(t *testing.T) {
	err := Config{TaxRate: -1, StorageDriver: "s3"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MONGO_URI")
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "TAX_RATE")
	assert.Contains(t, err.Error(), "AWS_S3_BUCKET")
}
