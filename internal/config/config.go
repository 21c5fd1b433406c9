// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// リクエスト処理中にグローバル状態から設定を読んではならない。
type Config struct {
	// Database
	DatabaseURL string

	// Token
	JWTSecret string
	TokenTTL  time.Duration

	// Google OAuth / Gmail
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GoogleCloudProject string
	GmailTopic         string

	// Provider calls
	ProviderTimeout time.Duration
	RefreshSkew     time.Duration

	// Renewal worker
	RenewalInterval      time.Duration
	RenewalMaxConcurrent int

	// Rate Limit
	RateLimitGeneral int
	RateLimitLogin   int

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す（起動時の致命的エラーとして扱う）。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}

	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if cfg.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}

	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	if cfg.GoogleRedirectURL == "" {
		missing = append(missing, "GOOGLE_REDIRECT_URL")
	}

	cfg.GoogleCloudProject = os.Getenv("GOOGLE_CLOUD_PROJECT")
	if cfg.GoogleCloudProject == "" {
		missing = append(missing, "GOOGLE_CLOUD_PROJECT")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 30*time.Minute)
	cfg.GmailTopic = getEnvString("GMAIL_TOPIC", "gmail-notifications")
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second)
	cfg.RefreshSkew = getEnvDuration("REFRESH_SKEW", 5*time.Minute)
	cfg.RenewalInterval = getEnvDuration("RENEWAL_INTERVAL", 5*time.Minute)
	cfg.RenewalMaxConcurrent = getEnvInt("RENEWAL_MAX_CONCURRENT", 10)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は読み込んだ設定の整合性を検証する。
func validate(cfg *Config) error {
	if cfg.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %v", cfg.TokenTTL)
	}
	if cfg.RefreshSkew <= 0 {
		return fmt.Errorf("REFRESH_SKEW must be positive, got %v", cfg.RefreshSkew)
	}
	if !strings.HasPrefix(cfg.GoogleRedirectURL, "http://") && !strings.HasPrefix(cfg.GoogleRedirectURL, "https://") {
		return fmt.Errorf("GOOGLE_REDIRECT_URL must be an absolute URL")
	}
	return nil
}

// GmailTopicName はGmail watchに渡す完全修飾Pub/Subトピック名を返す。
func (c *Config) GmailTopicName() string {
	return fmt.Sprintf("projects/%s/topics/%s", c.GoogleCloudProject, c.GmailTopic)
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
