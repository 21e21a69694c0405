package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Yusufzhafir/go-limitbook/pkg/model"
	"github.com/joho/godotenv"
)

type Market struct {
	Base        model.Currency
	Quote       model.Currency
	BaseLedger  uint32 // TigerBeetle ledger number of the base currency
	QuoteLedger uint32
	PriceScale  int32 // decimal places of quote minor units, display only
	DepthLevels int
}

func (m Market) Pair() model.Pair {
	return model.Pair{Base: m.Base, Quote: m.Quote}
}

// Ledgers maps each currency of the pair to its TigerBeetle ledger.
func (m Market) Ledgers() map[model.Currency]uint32 {
	return map[model.Currency]uint32{
		m.Base:  m.BaseLedger,
		m.Quote: m.QuoteLedger,
	}
}

type Database struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

func (d Database) Enabled() bool { return d.Host != "" }

func (d Database) DSN() string {
	return fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

type TigerBeetle struct {
	Addresses []string
	ClusterID uint64
}

func (t TigerBeetle) Enabled() bool { return len(t.Addresses) > 0 }

type Kafka struct {
	Brokers []string
	Topic   string
}

func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 }

type Config struct {
	HTTPAddr    string
	CORSOrigins []string
	JWTSecret   string
	QueueSize   int
	LogLevel    string
	LogFile     string

	Market      Market
	Database    Database
	TigerBeetle TigerBeetle
	Kafka       Kafka
}

func Default() Config {
	return Config{
		HTTPAddr:    ":8080",
		CORSOrigins: []string{"*"},
		QueueSize:   1024,
		LogLevel:    "info",
		Market: Market{
			Base:        "UAH",
			Quote:       "USD",
			BaseLedger:  20,
			QuoteLedger: 10,
			PriceScale:  2,
			DepthLevels: 10,
		},
		Database: Database{Port: "5432"},
		TigerBeetle: TigerBeetle{
			ClusterID: 0,
		},
		Kafka: Kafka{Topic: "settlements"},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	cfg.Market.Base = model.Currency(getEnv("BASE_CURRENCY", string(cfg.Market.Base)))
	cfg.Market.Quote = model.Currency(getEnv("QUOTE_CURRENCY", string(cfg.Market.Quote)))

	var err error
	if cfg.QueueSize, err = getEnvInt("QUEUE_SIZE", cfg.QueueSize); err != nil {
		return cfg, err
	}
	if cfg.Market.DepthLevels, err = getEnvInt("DEPTH_LEVELS", cfg.Market.DepthLevels); err != nil {
		return cfg, err
	}
	scale, err := getEnvInt("PRICE_SCALE", int(cfg.Market.PriceScale))
	if err != nil {
		return cfg, err
	}
	cfg.Market.PriceScale = int32(scale)
	if cfg.Market.BaseLedger, err = getEnvUint32("BASE_LEDGER", cfg.Market.BaseLedger); err != nil {
		return cfg, err
	}
	if cfg.Market.QuoteLedger, err = getEnvUint32("QUOTE_LEDGER", cfg.Market.QuoteLedger); err != nil {
		return cfg, err
	}

	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnv("DB_PORT", cfg.Database.Port)
	cfg.Database.Name = getEnv("DB_NAME", cfg.Database.Name)

	if addr := os.Getenv("TB_ADDRESS"); addr != "" {
		cfg.TigerBeetle.Addresses = splitList(addr)
	}
	if id := os.Getenv("TB_CLUSTER_ID"); id != "" {
		if cfg.TigerBeetle.ClusterID, err = strconv.ParseUint(id, 0, 64); err != nil {
			return cfg, fmt.Errorf("TB_CLUSTER_ID: %w", err)
		}
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	m := c.Market
	if m.Base == "" || m.Quote == "" || m.Base == m.Quote {
		return fmt.Errorf("invalid market %q/%q", m.Base, m.Quote)
	}
	if m.BaseLedger == m.QuoteLedger {
		return fmt.Errorf("base and quote share ledger %d", m.BaseLedger)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("QUEUE_SIZE must be > 0, got %d", c.QueueSize)
	}
	if c.Database.Enabled() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when the database is configured")
	}
	return nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvUint32(key string, defaultValue uint32) (uint32, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return uint32(n), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
