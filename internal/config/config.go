// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Scrape
	ScrapeMaxConcurrent int           // ソースパイプラインの最大並列数
	ScrapeTimeout       time.Duration // ソースにtimeoutMs未設定時のフォールバック
	ScrapeMaxSize       int64         // レスポンスボディの最大サイズ
	RetryMaxAttempts    int
	RetryBaseDelay      time.Duration
	SourceFailureRatio  float64 // この割合以上の記事が失敗するとソース失敗

	// Cleanup
	RetentionDays    int
	VolumeCap        int
	CleanupBatchSize int
	CleanupInterval  time.Duration

	// Resource monitor
	MonitorInterval       time.Duration
	MemorySoftLimitBytes  int64
	StorageHighWaterBytes int64

	// Rate Limit
	RateLimitTrigger int // トリガーAPIのレート（req/min/クライアント）

	// Server
	ServerPort        string
	CORSAllowedOrigin string

	// Seed
	SourcesFile string // 任意: migrate時に適用するソース定義YAML
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ScrapeMaxConcurrent = getEnvInt("SCRAPE_MAX_CONCURRENT", 3)
	cfg.ScrapeTimeout = getEnvDuration("SCRAPE_TIMEOUT", 15*time.Second)
	cfg.ScrapeMaxSize = getEnvInt64("SCRAPE_MAX_SIZE", 5242880)
	cfg.RetryMaxAttempts = getEnvInt("RETRY_MAX_ATTEMPTS", 3)
	cfg.RetryBaseDelay = getEnvDuration("RETRY_BASE_DELAY", 2*time.Second)
	cfg.SourceFailureRatio = getEnvFloat("SOURCE_FAILURE_RATIO", 1.0)
	cfg.RetentionDays = getEnvInt("RETENTION_DAYS", 30)
	cfg.VolumeCap = getEnvInt("VOLUME_CAP", 10000)
	cfg.CleanupBatchSize = getEnvInt("CLEANUP_BATCH_SIZE", 100)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.MonitorInterval = getEnvDuration("MONITOR_INTERVAL", 30*time.Second)
	cfg.MemorySoftLimitBytes = getEnvInt64("MEMORY_SOFT_LIMIT_BYTES", 512*1024*1024)
	cfg.StorageHighWaterBytes = getEnvInt64("STORAGE_HIGH_WATER_BYTES", 1024*1024*1024)
	cfg.RateLimitTrigger = getEnvInt("RATE_LIMIT_TRIGGER", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.SourcesFile = os.Getenv("SOURCES_FILE")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
