package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// Config groups application configuration, read via Viper from the
// environment and optionally from a .env file in the working directory.
type Config struct {
	App AppConfig
	DB  DBConfig
	Inv InventoryConfig
}

// AppConfig holds general application settings.
type AppConfig struct {
	Env      string // development, staging, production
	Name     string
	LogLevel string
}

// DBConfig holds PostgreSQL settings. If DatabaseURL is non-empty it is used
// as the full connection string and the individual fields are ignored.
type DBConfig struct {
	DatabaseURL string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
}

// InventoryConfig holds domain tunables.
type InventoryConfig struct {
	NearExpiryDays int // window for the near-expiry lot report
}

// ConnectionString returns DATABASE_URL when set, otherwise a DSN built from
// the individual fields.
func (c DBConfig) ConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.SSLMode),
	}
	return u.String()
}

// Load reads configuration from environment variables, with an optional .env
// file as a lower-priority source. Expected names: APP_ENV, DATABASE_URL,
// DB_HOST, DB_PORT, NEAR_EXPIRY_DAYS, etc.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // missing file is fine

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "inventory-service")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "inventory")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("NEAR_EXPIRY_DAYS", 30)

	cfg := &Config{
		App: AppConfig{
			Env:      v.GetString("APP_ENV"),
			Name:     v.GetString("APP_NAME"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		DB: DBConfig{
			DatabaseURL: v.GetString("DATABASE_URL"),
			Host:        v.GetString("DB_HOST"),
			Port:        v.GetInt("DB_PORT"),
			User:        v.GetString("DB_USER"),
			Password:    v.GetString("DB_PASSWORD"),
			DBName:      v.GetString("DB_NAME"),
			SSLMode:     v.GetString("DB_SSLMODE"),
		},
		Inv: InventoryConfig{
			NearExpiryDays: v.GetInt("NEAR_EXPIRY_DAYS"),
		},
	}

	if cfg.Inv.NearExpiryDays <= 0 {
		return nil, fmt.Errorf("NEAR_EXPIRY_DAYS must be positive, got %d", cfg.Inv.NearExpiryDays)
	}
	return cfg, nil
}
