// Package config loads the daemon configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the daemon configuration.
type Config struct {
	Port          int
	Driver        string
	SQLitePath    string
	DatabaseURL   string
	LogLevel      string
	LogFormat     string
	SweepInterval time.Duration // 0 disables the conflict sweeper
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	cfg := &Config{
		Port:        getEnvAsInt("WORKENTRY_PORT", 8080),
		Driver:      getEnv("WORKENTRY_DRIVER", DriverSQLite),
		SQLitePath:  getEnv("WORKENTRY_SQLITE_PATH", "workentries.db"),
		DatabaseURL: getEnv("WORKENTRY_DATABASE_URL", ""),
		LogLevel:    getEnv("WORKENTRY_LOG_LEVEL", "info"),
		LogFormat:   getEnv("WORKENTRY_LOG_FORMAT", "text"),
	}

	interval, err := getEnvAsDuration("WORKENTRY_SWEEP_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.SweepInterval = interval

	return cfg, cfg.Validate()
}

// Validate checks values that flags may also have set.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("WORKENTRY_SQLITE_PATH is empty")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("WORKENTRY_DATABASE_URL is required with the postgres driver")
		}
	default:
		return fmt.Errorf("unknown driver %q (want %s or %s)", c.Driver, DriverSQLite, DriverPostgres)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("negative sweep interval %s", c.SweepInterval)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log format %q (want text or json)", c.LogFormat)
	}
	return nil
}

// ConfigureLogger applies the level and format to the standard logger.
func (c *Config) ConfigureLogger() {
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
	if c.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func getEnv(key string, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvAsInt(name string, defaultVal int) int {
	valStr := getEnv(name, "")
	if val, err := strconv.Atoi(valStr); err == nil {
		return val
	}
	return defaultVal
}

// getEnvAsDuration accepts Go durations; a bare "0" disables.
func getEnvAsDuration(name string, defaultVal time.Duration) (time.Duration, error) {
	valStr := getEnv(name, "")
	if valStr == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(valStr)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}
