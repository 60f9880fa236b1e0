// Package config loads and validates the control plane's configuration from
// environment variables (optionally seeded by a .env file).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration, populated once at startup.
type Config struct {
	// Server
	Port    int
	BaseURL string
	DevMode bool
	CORSOrigin string
	LogLevel   string

	// Database
	DatabasePath     string
	SnapshotCachePath string

	// Upstream broker client (C1)
	UpstreamRequestTimeout time.Duration
	UpstreamMaxRetries     int
	UpstreamRetryDelay     time.Duration

	// Scheduler cadences (A3 / C4 / C7)
	OrderStatusPollingInterval time.Duration
	InstanceUpdateCron         string
	HealthCheckCron            string
	PnLRefreshCron             string
	ReconcileCron              string

	// Session (consumed by the external auth/session collaborator; validated
	// here only because §6 enumerates it as a recognized option)
	SessionSecret  string
	SessionMaxAge  time.Duration

	// Metrics / backup (A4 / A6)
	MetricsEnabled        bool
	BackupS3Bucket        string
	BackupS3Region        string
	BackupS3Endpoint      string
	BackupS3AccessKeyID   string
	BackupS3SecretKey     string
	BackupIntervalCron    string
	BackupRetentionDays   int

	// Dev/test-only
	TestMode  bool
	TestEmail string
}

// Load reads configuration from environment variables, seeding from a .env
// file first if one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:       getEnvAsInt("PORT", 3000),
		BaseURL:    getEnv("BASE_URL", ""),
		DevMode:    getEnvAsBool("DEV_MODE", false),
		CORSOrigin: getEnv("CORS_ORIGIN", "*"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		DatabasePath:      getEnv("DB_PATH", "./data/tradecontrol.db"),
		SnapshotCachePath: getEnv("SNAPSHOT_CACHE_PATH", ""),

		UpstreamRequestTimeout: getEnvAsDuration("UPSTREAM_REQUEST_TIMEOUT_MS", 15000*time.Millisecond),
		UpstreamMaxRetries:     getEnvAsInt("UPSTREAM_MAX_RETRIES", 3),
		UpstreamRetryDelay:     getEnvAsDuration("UPSTREAM_RETRY_DELAY_MS", 2000*time.Millisecond),

		OrderStatusPollingInterval: getEnvAsDuration("ORDER_STATUS_POLLING_INTERVAL_MS", 5000*time.Millisecond),
		InstanceUpdateCron:         getEnv("INSTANCE_UPDATE_CRON", "0 */2 * * * *"),
		HealthCheckCron:            getEnv("HEALTH_CHECK_CRON", "0 */5 * * * *"),
		PnLRefreshCron:             getEnv("PNL_REFRESH_CRON", "0 */1 * * * *"),
		ReconcileCron:              getEnv("RECONCILE_CRON", "*/15 * * * * *"),

		SessionSecret: getEnv("SESSION_SECRET", ""),
		SessionMaxAge: getEnvAsDuration("SESSION_MAX_AGE_MS", 24*time.Hour),

		MetricsEnabled:      getEnvAsBool("METRICS_ENABLED", true),
		BackupS3Bucket:      getEnv("BACKUP_S3_BUCKET", ""),
		BackupS3Region:      getEnv("BACKUP_S3_REGION", "auto"),
		BackupS3Endpoint:    getEnv("BACKUP_S3_ENDPOINT", ""),
		BackupS3AccessKeyID: getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
		BackupS3SecretKey:   getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
		BackupIntervalCron:  getEnv("BACKUP_INTERVAL_CRON", "0 0 0 * * *"),
		BackupRetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 14),

		TestMode:  getEnvAsBool("TEST_MODE", false),
		TestEmail: getEnv("TEST_EMAIL", ""),
	}

	if cfg.SnapshotCachePath == "" {
		cfg.SnapshotCachePath = cfg.DatabasePath + ".marketcache"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that production-required configuration is present. In dev
// mode, BASE_URL and SESSION_SECRET may be left unset.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if !c.DevMode {
		if c.BaseURL == "" {
			return fmt.Errorf("BASE_URL is required in production")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in production")
		}
	}
	if c.UpstreamMaxRetries < 0 {
		return fmt.Errorf("UPSTREAM_MAX_RETRIES must be >= 0")
	}
	if c.BackupS3Bucket != "" {
		if c.BackupS3AccessKeyID == "" || c.BackupS3SecretKey == "" {
			return fmt.Errorf("BACKUP_S3_ACCESS_KEY_ID and BACKUP_S3_SECRET_ACCESS_KEY are required when BACKUP_S3_BUCKET is set")
		}
	}
	return nil
}

// BackupEnabled reports whether S3/R2 backup upload is configured.
func (c *Config) BackupEnabled() bool {
	return c.BackupS3Bucket != ""
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsDuration reads an env var holding a millisecond integer and
// returns it as a time.Duration, matching §6's *_MS-named configuration keys.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
