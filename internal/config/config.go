package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env                string        `mapstructure:"ENV"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	Port               string        `mapstructure:"PORT"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	StarSchema         string        `mapstructure:"STAR_SCHEMA"`
	FactTable          string        `mapstructure:"FACT_TABLE"`
	PatientIDESource   string        `mapstructure:"PATIENT_IDE_SOURCE"`
	StayIDESource      string        `mapstructure:"STAY_IDE_SOURCE"`
	CopyBatchSize      int           `mapstructure:"COPY_BATCH_SIZE"`
	LockTimeout        time.Duration `mapstructure:"LOCK_TIMEOUT"`
	ExchangeMaxRetries int           `mapstructure:"EXCHANGE_MAX_RETRIES"`
	PushgatewayURL     string        `mapstructure:"PUSHGATEWAY_URL"`
	MigrationsDir      string        `mapstructure:"MIGRATIONS_DIR"` // empty: embedded DDL
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", "8000")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("STAR_SCHEMA", "i2b2star")
	v.SetDefault("FACT_TABLE", "observation_fact")
	v.SetDefault("STAY_IDE_SOURCE", "MEDPAR")
	v.SetDefault("COPY_BATCH_SIZE", 10000)
	v.SetDefault("LOCK_TIMEOUT", "5s")
	v.SetDefault("EXCHANGE_MAX_RETRIES", 5)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("ENV")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("PORT")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("STAR_SCHEMA")
	v.BindEnv("FACT_TABLE")
	v.BindEnv("PATIENT_IDE_SOURCE")
	v.BindEnv("STAY_IDE_SOURCE")
	v.BindEnv("COPY_BATCH_SIZE")
	v.BindEnv("LOCK_TIMEOUT")
	v.BindEnv("EXCHANGE_MAX_RETRIES")
	v.BindEnv("PUSHGATEWAY_URL")
	v.BindEnv("MIGRATIONS_DIR")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks settings that would otherwise fail deep inside a load.
// Schema and table names end up in DDL, so they are restricted to plain
// lower-case identifiers.
func (c *Config) Validate() error {
	if !identPattern.MatchString(c.StarSchema) {
		return fmt.Errorf("STAR_SCHEMA must be a lower-case identifier, got %q", c.StarSchema)
	}
	if !identPattern.MatchString(c.FactTable) {
		return fmt.Errorf("FACT_TABLE must be a lower-case identifier, got %q", c.FactTable)
	}
	// Partition and staging names append "_stage_u<id>"; keep room under NAMEDATALEN.
	if len(c.FactTable) > 36 {
		return fmt.Errorf("FACT_TABLE must be at most 36 characters, got %d", len(c.FactTable))
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be positive, got %d", c.DBMaxConns)
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS, got %d", c.DBMinConns)
	}
	if c.CopyBatchSize < 1 {
		return fmt.Errorf("COPY_BATCH_SIZE must be positive, got %d", c.CopyBatchSize)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive, got %s", c.LockTimeout)
	}
	if c.ExchangeMaxRetries < 0 {
		return fmt.Errorf("EXCHANGE_MAX_RETRIES must not be negative, got %d", c.ExchangeMaxRetries)
	}
	if c.StayIDESource == "" {
		return fmt.Errorf("STAY_IDE_SOURCE must not be empty")
	}
	return nil
}
