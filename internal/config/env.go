package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	SslCertPath string

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	AIAPIKey    string
	VisionModel string

	CloudConvertAPIKey string
	PDFConvertTimeout  time.Duration

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string

	AppURL    string
	JWTSecret string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceBundle   string

	AllowedOrigins []string
	MaxUploadBytes int64
	LogLevel       string
	Port           string
}

// LoadConfig loads .env (if any) and reads the environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		SslCertPath:         getEnv("SSL_CERT_PATH", ""),
		AwsAccessKey:        getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:        getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:           getEnv("AWS_REGION", "us-east-2"),
		BucketName:          getEnv("BUCKET_NAME", "toolsuite-documents"),
		AIAPIKey:            getEnv("GEMINI_API_KEY", ""),
		VisionModel:         getEnv("VISION_MODEL", "gemini-1.5-flash"),
		CloudConvertAPIKey:  getEnv("CLOUDCONVERT_API_KEY", ""),
		PDFConvertTimeout:   getEnvDuration("PDF_CONVERT_TIMEOUT", 60*time.Second),
		GoogleClientID:      getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:  getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:   getEnv("GOOGLE_OAUTH_REDIRECT_URI", ""),
		AppURL:              strings.TrimRight(getEnv("APP_URL", "http://localhost:3000"), "/"),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripePriceBundle:   getEnv("STRIPE_PRICE_BUNDLE", ""),
		AllowedOrigins:      splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		MaxUploadBytes:      int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		Port:                getEnv("PORT", "8080"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL not set")
	}
	if cfg.GoogleRedirectURI == "" {
		cfg.GoogleRedirectURI = cfg.AppURL + "/api/google/oauth/callback"
	}

	return cfg, nil
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
