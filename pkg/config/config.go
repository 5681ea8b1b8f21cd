package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	ServerPort  string
	Environment string
	LogLevel    string
	LogPretty   bool

	// StoreDriver selects the chat storage backend: firestore, postgres, sqlite or memory.
	StoreDriver string
	Database    DatabaseConfig

	FirebaseProject            string
	FirebaseServiceAccountPath string
	FirebaseServiceAccountJSON string
	StorageBucket              string

	Redis RedisConfig

	// AuthMode is "firebase" (ID tokens) or "header" (X-User-ID, development only).
	AuthMode string

	OfferDefaultTTL      time.Duration
	OfferSweepInterval   time.Duration
	MessageEditWindow    time.Duration
	MessageRatePerMinute int
}

type DatabaseConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	Name       string
	SSLMode    string
	SQLitePath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Load reads .env (if present), an optional config.yaml and the process environment.
// Environment variables win over the file.
func Load() (*Config, error) {
	godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		ServerPort:  v.GetString("SERVER_PORT"),
		Environment: v.GetString("ENVIRONMENT"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		LogPretty:   v.GetBool("LOG_PRETTY"),
		StoreDriver: strings.ToLower(v.GetString("STORE_DRIVER")),
		Database: DatabaseConfig{
			Host:       v.GetString("DATABASE_HOST"),
			Port:       v.GetInt("DATABASE_PORT"),
			User:       v.GetString("DATABASE_USER"),
			Password:   v.GetString("DATABASE_PASSWORD"),
			Name:       v.GetString("DATABASE_NAME"),
			SSLMode:    v.GetString("DATABASE_SSLMODE"),
			SQLitePath: v.GetString("DATABASE_SQLITE_PATH"),
		},
		FirebaseProject:            v.GetString("FIREBASE_PROJECT_ID"),
		FirebaseServiceAccountPath: v.GetString("FIREBASE_SERVICE_ACCOUNT_PATH"),
		FirebaseServiceAccountJSON: v.GetString("FIREBASE_SERVICE_ACCOUNT_JSON"),
		StorageBucket:              v.GetString("STORAGE_BUCKET"),
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		AuthMode:             strings.ToLower(v.GetString("AUTH_MODE")),
		OfferDefaultTTL:      v.GetDuration("OFFER_DEFAULT_TTL"),
		OfferSweepInterval:   v.GetDuration("OFFER_SWEEP_INTERVAL"),
		MessageEditWindow:    v.GetDuration("MESSAGE_EDIT_WINDOW"),
		MessageRatePerMinute: v.GetInt("MESSAGE_RATE_PER_MINUTE"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("STORE_DRIVER", "memory")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_SQLITE_PATH", "marketchat.db")
	v.SetDefault("AUTH_MODE", "firebase")
	v.SetDefault("OFFER_DEFAULT_TTL", 72*time.Hour)
	v.SetDefault("OFFER_SWEEP_INTERVAL", time.Minute)
	v.SetDefault("MESSAGE_EDIT_WINDOW", 15*time.Minute)
	v.SetDefault("MESSAGE_RATE_PER_MINUTE", 30)
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "firestore", "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.AuthMode {
	case "firebase", "header":
	default:
		return fmt.Errorf("unsupported AUTH_MODE %q", c.AuthMode)
	}
	if c.AuthMode == "header" && !c.IsDevelopment() {
		return fmt.Errorf("AUTH_MODE=header is only allowed in development")
	}
	if (c.StoreDriver == "firestore" || c.AuthMode == "firebase") && c.FirebaseProject == "" {
		return fmt.Errorf("FIREBASE_PROJECT_ID is required")
	}
	if c.OfferSweepInterval <= 0 {
		return fmt.Errorf("OFFER_SWEEP_INTERVAL must be positive")
	}
	return nil
}
