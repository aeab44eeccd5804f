package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/cashier/internal/domain/cashier"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBSchema       string        `mapstructure:"DB_SCHEMA"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`

	// Receipt defaults apply until settings are stored in the database.
	ReceiptGrouping        string `mapstructure:"RECEIPT_GROUPING"`
	ReceiptSequenceType    string `mapstructure:"RECEIPT_SEQUENCE_TYPE"`
	ReceiptSeparator       string `mapstructure:"RECEIPT_SEPARATOR"`
	ReceiptPadding         int    `mapstructure:"RECEIPT_PADDING"`
	ReceiptCashierPrefix   string `mapstructure:"RECEIPT_CASHIER_PREFIX"`
	ReceiptCashPointPrefix string `mapstructure:"RECEIPT_CASH_POINT_PREFIX"`
	ReceiptCheckDigit      bool   `mapstructure:"RECEIPT_CHECK_DIGIT"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_SCHEMA", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT",
	"RECEIPT_GROUPING", "RECEIPT_SEQUENCE_TYPE", "RECEIPT_SEPARATOR", "RECEIPT_PADDING",
	"RECEIPT_CASHIER_PREFIX", "RECEIPT_CASH_POINT_PREFIX", "RECEIPT_CHECK_DIGIT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	def := cashier.DefaultReceiptGeneratorModel()
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("RECEIPT_GROUPING", string(def.Grouping))
	v.SetDefault("RECEIPT_SEQUENCE_TYPE", string(def.SequenceType))
	v.SetDefault("RECEIPT_SEPARATOR", def.Separator)
	v.SetDefault("RECEIPT_PADDING", def.SequencePadding)
	v.SetDefault("RECEIPT_CASHIER_PREFIX", def.CashierPrefix)
	v.SetDefault("RECEIPT_CASH_POINT_PREFIX", def.CashPointPrefix)
	v.SetDefault("RECEIPT_CHECK_DIGIT", def.IncludeCheckDigit)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// ReceiptModel is the receipt generator model built from the RECEIPT_* keys.
func (c *Config) ReceiptModel() cashier.ReceiptGeneratorModel {
	return cashier.ReceiptGeneratorModel{
		Grouping:          cashier.GroupingType(strings.ToUpper(c.ReceiptGrouping)),
		SequenceType:      cashier.SequenceType(strings.ToUpper(c.ReceiptSequenceType)),
		Separator:         c.ReceiptSeparator,
		SequencePadding:   c.ReceiptPadding,
		CashierPrefix:     c.ReceiptCashierPrefix,
		CashPointPrefix:   c.ReceiptCashPointPrefix,
		IncludeCheckDigit: c.ReceiptCheckDigit,
	}
}

// Validate checks that the configuration is safe to run. Outside development
// either AUTH_SIGNING_KEY or a JWKS source must be configured.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set when ENV=%q", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters, got %d", len(c.AuthSigningKey))
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) cannot exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if err := c.ReceiptModel().Validate(); err != nil {
		return fmt.Errorf("receipt settings: %w", err)
	}
	return nil
}
