// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"golang.org/x/crypto/bcrypt"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Token
	JWTSecret string
	TokenTTL  time.Duration

	// Password
	BcryptCost int

	// Object storage
	S3Bucket      string
	S3Region      string
	S3Endpoint    string
	PresignTTL    time.Duration
	MaxUploadSize int64

	// Orphan sweeper
	OrphanSweepInterval time.Duration
	OrphanGracePeriod   time.Duration

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS（カンマ区切りで複数指定可）
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// requiredVar は必須環境変数と格納先。
type requiredVar struct {
	name string
	dst  *string
}

// Load は環境変数からConfigを読み込み、Validateで値の範囲を検証する。
// 必須環境変数が未設定の場合は、未設定のものをまとめてエラーで返す。
// 任意項目の値が解釈できない場合は既定値を使う。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string
	for _, rv := range []requiredVar{
		{"DATABASE_URL", &cfg.DatabaseURL},
		{"JWT_SECRET", &cfg.JWTSecret},
		{"S3_BUCKET", &cfg.S3Bucket},
		{"BASE_URL", &cfg.BaseURL},
	} {
		*rv.dst = os.Getenv(rv.name)
		if *rv.dst == "" {
			missing = append(missing, rv.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 7*time.Hour)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.S3Region = getEnvString("S3_REGION", "ap-northeast-1")
	cfg.S3Endpoint = getEnvString("S3_ENDPOINT", "")
	cfg.PresignTTL = getEnvDuration("PRESIGN_TTL", 10*time.Minute)
	cfg.MaxUploadSize = getEnvInt64("MAX_UPLOAD_SIZE", 10<<20)
	cfg.OrphanSweepInterval = getEnvDuration("ORPHAN_SWEEP_INTERVAL", time.Hour)
	cfg.OrphanGracePeriod = getEnvDuration("ORPHAN_GRACE_PERIOD", 24*time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate は設定値の範囲を検証する。
// 署名鍵はHS512のブロック長を考慮して32バイト以上を要求する。
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DatabaseURL, validation.Required),
		validation.Field(&c.JWTSecret, validation.Required, validation.Length(32, 0)),
		validation.Field(&c.BcryptCost, validation.Min(bcrypt.MinCost), validation.Max(bcrypt.MaxCost)),
		validation.Field(&c.S3Bucket, validation.Required, validation.Length(3, 63)),
		validation.Field(&c.S3Endpoint, is.URL),
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.ServerPort, validation.Required, is.Port),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
	)
}

func getEnvString(key, defaultVal string) string {
	return getEnv(key, defaultVal, func(v string) (string, error) { return v, nil })
}

func getEnvInt(key string, defaultVal int) int {
	return getEnv(key, defaultVal, strconv.Atoi)
}

func getEnvInt64(key string, defaultVal int64) int64 {
	return getEnv(key, defaultVal, func(v string) (int64, error) {
		return strconv.ParseInt(v, 10, 64)
	})
}

// getEnvDuration は正の期間のみ受け付ける。
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	return getEnv(key, defaultVal, func(v string) (time.Duration, error) {
		d, err := time.ParseDuration(v)
		if err == nil && d <= 0 {
			err = fmt.Errorf("%s must be positive", key)
		}
		return d, err
	})
}

// getEnv は環境変数をparseで解釈する。未設定または解釈できない場合はdefaultValを返す。
func getEnv[T any](key string, defaultVal T, parse func(string) (T, error)) T {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parsed, err := parse(v)
	if err != nil {
		return defaultVal
	}
	return parsed
}
