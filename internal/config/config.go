package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvProduction  = "production"
	EnvStaging     = "staging"
	EnvDevelopment = "development"
)

type Config struct {
	HTTPAddr    string
	Environment string
	PostgresDSN string

	APIBaseURL     string
	RequestTimeout time.Duration

	KeyRotationDays int

	MinRequestInterval time.Duration
	RateLimitMaxKeys   int
	RedisAddr          string
	RedisPassword      string
	RedisDB            int

	RetryMax       int
	RetryBaseDelay time.Duration

	ResponseCacheTTL time.Duration

	SessionTimeout time.Duration

	TrustedFingerprints string
	HostFingerprints    string
	AllowUnpinnedTLS    bool

	ConfirmationPolicyPath string
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8090"
	}
	env := envDefault("WALLETD_ENV", EnvDevelopment)
	return Config{
		HTTPAddr:               addr,
		Environment:            env,
		PostgresDSN:            os.Getenv("POSTGRES_DSN"),
		APIBaseURL:             envDefault("API_BASE_URL", defaultBaseURL(env)),
		RequestTimeout:         time.Duration(envIntDefault("REQUEST_TIMEOUT_SECONDS", 15)) * time.Second,
		KeyRotationDays:        envIntDefault("KEY_ROTATION_DAYS", 30),
		MinRequestInterval:     time.Duration(envIntDefault("MIN_REQUEST_INTERVAL_MS", 500)) * time.Millisecond,
		RateLimitMaxKeys:       envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                envIntDefault("REDIS_DB", 0),
		RetryMax:               envIntDefault("RETRY_MAX", 3),
		RetryBaseDelay:         time.Duration(envIntDefault("RETRY_BASE_DELAY_MS", 500)) * time.Millisecond,
		ResponseCacheTTL:       time.Duration(envIntDefault("RESPONSE_CACHE_TTL_SECONDS", 30)) * time.Second,
		SessionTimeout:         time.Duration(envIntDefault("SESSION_TIMEOUT_MINUTES", 15)) * time.Minute,
		TrustedFingerprints:    os.Getenv("TRUSTED_FINGERPRINTS"),
		HostFingerprints:       os.Getenv("HOST_FINGERPRINTS"),
		AllowUnpinnedTLS:       envBoolDefault("WALLETD_ALLOW_UNPINNED_TLS", false),
		ConfirmationPolicyPath: os.Getenv("CONFIRMATION_POLICY_PATH"),
	}
}

func defaultBaseURL(env string) string {
	switch env {
	case EnvProduction:
		return "https://api.walletd.io"
	case EnvStaging:
		return "https://staging-api.walletd.io"
	default:
		return "http://localhost:8080"
	}
}

// ParseHostFingerprints reads "host=fp,fp;host2=fp" into per-host pin sets.
func ParseHostFingerprints(raw string) map[string][]string {
	out := make(map[string][]string)
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		host, list, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		var fps []string
		for _, fp := range strings.Split(list, ",") {
			if fp = strings.TrimSpace(fp); fp != "" {
				fps = append(fps, strings.ToLower(fp))
			}
		}
		if len(fps) > 0 {
			out[strings.TrimSpace(host)] = fps
		}
	}
	return out
}

func ParseFingerprints(raw string) []string {
	var out []string
	for _, fp := range strings.Split(raw, ",") {
		if fp = strings.TrimSpace(fp); fp != "" {
			out = append(out, strings.ToLower(fp))
		}
	}
	return out
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
