package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "UAH-USD", cfg.Market.Pair().Symbol())
	assert.False(t, cfg.Database.Enabled())
	assert.False(t, cfg.TigerBeetle.Enabled())
	assert.False(t, cfg.Kafka.Enabled())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("BASE_CURRENCY=BTC\nDEPTH_LEVELS=25\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("BASE_CURRENCY")
		os.Unsetenv("DEPTH_LEVELS")
	})

	t.Setenv("QUOTE_CURRENCY", "EUR")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("TB_ADDRESS", "3001")
	t.Setenv("TB_CLUSTER_ID", "7")

	cfg, err := LoadFromEnv(envPath)
	require.NoError(t, err)
	assert.Equal(t, "BTC-EUR", cfg.Market.Pair().Symbol())
	assert.Equal(t, 25, cfg.Market.DepthLevels)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"3001"}, cfg.TigerBeetle.Addresses)
	assert.Equal(t, uint64(7), cfg.TigerBeetle.ClusterID)
	assert.Equal(t, uint32(20), cfg.Market.Ledgers()["BTC"])
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("DEPTH_LEVELS", "many")
	_, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Market.Quote = cfg.Market.Base
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Database.Host = "db"
	assert.Error(t, cfg.Validate())
	cfg.JWTSecret = "secret"
	assert.NoError(t, cfg.Validate())
}
