package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment          string
	HTTPPort             string
	DatabaseURL          string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	NodeID               int64
	ServiceName          string
	RateLimitRPM         int
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	TraceSampleRatio     float64
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool

	TokenIssuer      string
	TokenAudiences   []string
	TokenAlgorithms  []string
	TokenClockLeeway time.Duration
	JWKSURL          string
	JWKSCacheTTL     time.Duration

	ClaimNamespace       string
	ClaimsCompatStandard bool

	LookupTimeout    time.Duration
	WritebackTimeout time.Duration
	IdPAdminURL      string
	IdPAdminToken    string
	HookSecret       string
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	issuer := strings.TrimRight(strings.TrimSpace(os.Getenv("TOKEN_ISSUER")), "/")
	if issuer == "" {
		return Config{}, fmt.Errorf("TOKEN_ISSUER is required")
	}

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		NodeID:               int64(getInt("NODE_ID", 1)),
		ServiceName:          getEnv("SERVICE_NAME", "trioll-developer-portal"),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		TraceSampleRatio:     getFloat("TRACE_SAMPLE_RATIO", 1),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type", "X-App-Client"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
		TokenIssuer:          issuer,
		TokenAudiences:       getList("TOKEN_AUDIENCES", nil),
		TokenAlgorithms:      getList("TOKEN_ALGORITHMS", []string{"RS256"}),
		TokenClockLeeway:     getDuration("TOKEN_CLOCK_LEEWAY", 0),
		JWKSURL:              getEnv("JWKS_URL", issuer+"/.well-known/jwks.json"),
		JWKSCacheTTL:         getDuration("JWKS_CACHE_TTL", time.Hour),
		ClaimNamespace:       getEnv("CLAIM_NAMESPACE", "custom:"),
		ClaimsCompatStandard: getBool("CLAIMS_COMPAT_STANDARD", true),
		LookupTimeout:        getDuration("LOOKUP_TIMEOUT", 3*time.Second),
		WritebackTimeout:     getDuration("WRITEBACK_TIMEOUT", 3*time.Second),
		IdPAdminURL:          strings.TrimRight(os.Getenv("IDP_ADMIN_URL"), "/"),
		IdPAdminToken:        os.Getenv("IDP_ADMIN_TOKEN"),
		HookSecret:           os.Getenv("HOOK_SECRET"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 3 * time.Second
	}
	if cfg.WritebackTimeout <= 0 {
		cfg.WritebackTimeout = 3 * time.Second
	}
	if cfg.JWKSCacheTTL <= 0 {
		cfg.JWKSCacheTTL = time.Hour
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
