// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the database files (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	// Upstox OAuth credentials. The dashboard never refreshes tokens itself;
	// it only builds the authorization URL and persists what the auth flow
	// hands back.
	UpstoxAPIKey      string
	UpstoxRedirectURI string

	// Cache sweep interval. Expired rows are also swept lazily on writes,
	// this only bounds staleness for write-idle periods.
	CacheSweepInterval time.Duration

	Backup *BackupConfig
}

// BackupConfig holds off-site backup configuration.
// Backups target any S3-compatible object store (AWS S3, Cloudflare R2).
type BackupConfig struct {
	Enabled     bool
	Endpoint    string // Custom endpoint URL, empty for AWS S3
	Region      string
	Bucket      string
	AccessKeyID string
	SecretKey   string
	Schedule    string // cron spec, e.g. "0 0 18 * * *"
	KeepCount   int    // Number of remote backups to retain
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("QUANTDESK_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory to absolute path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", absDataDir, err)
	}

	port, err := strconv.Atoi(getEnv("QUANTDESK_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUANTDESK_PORT: %w", err)
	}

	sweepMinutes, err := strconv.Atoi(getEnv("QUANTDESK_CACHE_SWEEP_MINUTES", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUANTDESK_CACHE_SWEEP_MINUTES: %w", err)
	}

	cfg := &Config{
		DataDir:            absDataDir,
		LogLevel:           getEnv("QUANTDESK_LOG_LEVEL", "info"),
		Port:               port,
		DevMode:            getEnv("QUANTDESK_DEV_MODE", "false") == "true",
		UpstoxAPIKey:       getEnv("UPSTOX_API_KEY", ""),
		UpstoxRedirectURI:  getEnv("UPSTOX_REDIRECT_URI", "http://localhost:8080/api/auth/callback"),
		CacheSweepInterval: time.Duration(sweepMinutes) * time.Minute,
	}

	cfg.Backup = loadBackupConfig()

	return cfg, nil
}

// loadBackupConfig reads backup settings from environment variables.
// Backups are disabled unless a bucket is configured.
func loadBackupConfig() *BackupConfig {
	bucket := getEnv("QUANTDESK_BACKUP_BUCKET", "")

	keepCount, err := strconv.Atoi(getEnv("QUANTDESK_BACKUP_KEEP", "7"))
	if err != nil || keepCount < 1 {
		keepCount = 7
	}

	return &BackupConfig{
		Enabled:     bucket != "" && getEnv("QUANTDESK_BACKUP_ENABLED", "true") == "true",
		Endpoint:    getEnv("QUANTDESK_BACKUP_ENDPOINT", ""),
		Region:      getEnv("QUANTDESK_BACKUP_REGION", "auto"),
		Bucket:      bucket,
		AccessKeyID: getEnv("QUANTDESK_BACKUP_ACCESS_KEY_ID", ""),
		SecretKey:   getEnv("QUANTDESK_BACKUP_SECRET_ACCESS_KEY", ""),
		Schedule:    getEnv("QUANTDESK_BACKUP_SCHEDULE", "0 0 18 * * *"),
		KeepCount:   keepCount,
	}
}

// getEnv retrieves an environment variable value, returning a fallback if
// the variable is not set or is empty.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
