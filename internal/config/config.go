package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ForceLeaderEnv is the administrative override checked on every
// reconciliation cycle.
const ForceLeaderEnv = "FLEET_FORCE_LEADER"

// Config holds all configuration for the gateway
type Config struct {
	// Server settings
	Port        int
	CORSOrigins []string
	Environment string // appended to the instance id, e.g. "production"
	IsLocal     bool

	// Database
	DatabaseDSN    string
	DatabaseDriver string // "postgres" or "sqlite", auto-detected from DSN

	// Security
	GatewayKeyHash string // bcrypt hash protecting admin routes

	// Reverse proxy
	ServicesFile string

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string

	// Instance identity overrides (metadata service is used when empty)
	InstanceID          string
	PublicIP            string
	PrivateIP           string
	InstanceMetadataURL string

	// Fleet membership and election
	HeartbeatInterval    time.Duration
	HeartbeatRetention   time.Duration
	HeartbeatRetryDelay  time.Duration
	EvictionInterval     time.Duration
	EvictionJitter       float64
	StaleThreshold       time.Duration
	ElectionInterval     time.Duration
	RegistrationRetries  int
	RegistrationBackoff  time.Duration
	AssumeLeader         bool
	ShutdownGracePeriod  time.Duration
	HealthCheckTimeout   time.Duration
	ProxyResponseTimeout time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}

	// Server
	cfg.Port = getEnvInt("PORT", 3000)
	cfg.CORSOrigins = getEnvList("CORS_ORIGINS", []string{"*"})
	cfg.Environment = getEnv("GATEWAY_ENV", "local")
	cfg.IsLocal = getEnvBool("IS_LOCAL", false)

	// Database
	cfg.DatabaseDSN = getEnv("DATABASE_DSN", "sqlite://./fleetgate.db")
	cfg.DatabaseDriver = detectDriver(cfg.DatabaseDSN)

	cfg.GatewayKeyHash = getEnv("GATEWAY_KEY_HASH", "")
	cfg.ServicesFile = getEnv("SERVICES_FILE", "services.yaml")

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "text")
	cfg.LogFile = getEnv("LOG_FILE", "")

	// Identity
	cfg.InstanceID = getEnv("INSTANCE_ID", "")
	cfg.PublicIP = getEnv("PUBLIC_IP", "")
	cfg.PrivateIP = getEnv("PRIVATE_IP", "")
	cfg.InstanceMetadataURL = getEnv("INSTANCE_METADATA_URL", "http://169.254.169.254/latest")

	// Fleet
	cfg.HeartbeatInterval = getEnvDuration("FLEET_HEARTBEAT_INTERVAL", time.Second)
	cfg.HeartbeatRetention = getEnvDuration("FLEET_HEARTBEAT_RETENTION", 5*time.Minute)
	cfg.HeartbeatRetryDelay = getEnvDuration("FLEET_HEARTBEAT_RETRY_DELAY", 500*time.Millisecond)
	cfg.EvictionInterval = getEnvDuration("FLEET_EVICTION_INTERVAL", 5*time.Second)
	cfg.EvictionJitter = getEnvFloat("FLEET_EVICTION_JITTER", 0.5)
	cfg.StaleThreshold = getEnvDuration("FLEET_STALE_THRESHOLD", 10*time.Second)
	cfg.ElectionInterval = getEnvDuration("FLEET_ELECTION_INTERVAL", 5*time.Second)
	cfg.RegistrationRetries = getEnvInt("FLEET_REGISTRATION_RETRIES", 5)
	cfg.RegistrationBackoff = getEnvDuration("FLEET_REGISTRATION_BACKOFF", time.Second)
	cfg.AssumeLeader = getEnvBool("FLEET_ASSUME_LEADER", false)

	cfg.ShutdownGracePeriod = getEnvDuration("SHUTDOWN_GRACE_PERIOD", 30*time.Second)
	cfg.HealthCheckTimeout = getEnvDuration("HEALTH_CHECK_TIMEOUT", 3*time.Second)
	cfg.ProxyResponseTimeout = getEnvDuration("PROXY_RESPONSE_TIMEOUT", 60*time.Second)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Port)
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("FLEET_HEARTBEAT_INTERVAL must be positive")
	}
	if c.StaleThreshold <= c.HeartbeatInterval {
		return fmt.Errorf("FLEET_STALE_THRESHOLD (%s) must exceed FLEET_HEARTBEAT_INTERVAL (%s)",
			c.StaleThreshold, c.HeartbeatInterval)
	}
	if c.HeartbeatRetention < c.StaleThreshold {
		return errors.New("FLEET_HEARTBEAT_RETENTION must be at least FLEET_STALE_THRESHOLD")
	}
	if c.EvictionInterval <= 0 || c.ElectionInterval <= 0 {
		return errors.New("FLEET_EVICTION_INTERVAL and FLEET_ELECTION_INTERVAL must be positive")
	}
	if c.EvictionJitter < 0 || c.EvictionJitter >= 1 {
		return fmt.Errorf("FLEET_EVICTION_JITTER must be in [0, 1), got %v", c.EvictionJitter)
	}
	if c.RegistrationRetries < 1 {
		return errors.New("FLEET_REGISTRATION_RETRIES must be at least 1")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL: %s", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %s", c.LogFormat)
	}
	return nil
}

// ForceLeaderFromEnv reports whether the force-leader override is set right
// now. It is read on every call so operators can flip it without a restart.
func ForceLeaderFromEnv() bool {
	return getEnvBool(ForceLeaderEnv, false)
}

// detectDriver determines the database driver from DSN
func detectDriver(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.HasPrefix(dsn, "sqlite3://") || strings.HasPrefix(dsn, "sqlite://") {
		return "sqlite"
	}
	// Default to sqlite for file paths
	if strings.HasSuffix(dsn, ".db") || strings.HasSuffix(dsn, ".sqlite") || strings.HasPrefix(dsn, ":memory:") {
		return "sqlite"
	}
	return "postgres"
}

// CleanDSN removes the driver prefix from DSN for database/sql
func (c *Config) CleanDSN() string {
	dsn := c.DatabaseDSN
	dsn = strings.TrimPrefix(dsn, "postgres://")
	dsn = strings.TrimPrefix(dsn, "postgresql://")
	dsn = strings.TrimPrefix(dsn, "sqlite3://")
	dsn = strings.TrimPrefix(dsn, "sqlite://")

	// For postgres, add the prefix back
	if c.DatabaseDriver == "postgres" {
		return "postgres://" + dsn
	}
	return dsn
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
