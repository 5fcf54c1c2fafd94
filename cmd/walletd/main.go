package main

import (
	"context"
	"log"
	"net/url"
	"time"

	"walletd/internal/config"
	"walletd/internal/domain"
	"walletd/internal/infra/certpin"
	cryptoinfra "walletd/internal/infra/crypto"
	"walletd/internal/infra/httpapi"
	"walletd/internal/infra/keys"
	"walletd/internal/infra/policy"
	"walletd/internal/infra/ratelimit"
	"walletd/internal/infra/securecache"
	"walletd/internal/infra/session"
	"walletd/internal/infra/storage"
	"walletd/internal/infra/transport"
	"walletd/internal/usecase"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	var store storage.Store
	if cfg.PostgresDSN != "" {
		pg, err := storage.NewPostgres(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("failed to init postgres store: %v", err)
		}
		store = pg
	} else {
		store = storage.NewMemory()
	}

	auditor := usecase.NewSecurityAuditor(store, nil)

	keyManager := keys.NewManager(keys.ManagerConfig{
		Store:            store,
		Recorder:         auditor,
		RotationInterval: time.Duration(cfg.KeyRotationDays) * 24 * time.Hour,
	})
	if rotated, err := keyManager.RotateIfDue(ctx); err != nil {
		log.Printf("scheduled key rotation failed: %v", err)
	} else if rotated {
		log.Printf("key rotation completed at startup")
	}

	codec := cryptoinfra.NewCodec(keyManager, nil)
	cache := securecache.New(store, codec, auditor, nil)

	pins := certpin.NewTrustedFingerprintSet(
		config.ParseFingerprints(cfg.TrustedFingerprints),
		config.ParseHostFingerprints(cfg.HostFingerprints),
	)
	validator := certpin.NewValidator(pins, auditor, nil)
	if cfg.AllowUnpinnedTLS && cfg.Environment == config.EnvDevelopment {
		validator.AllowUnpinnedForDevelopment()
	}

	var limiter domain.RateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{
		MaxKeys: cfg.RateLimitMaxKeys,
	})
	if cfg.RedisAddr != "" {
		redisLimiter, err := ratelimit.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, nil)
		if err != nil {
			log.Fatalf("failed to init redis limiter: %v", err)
		}
		limiter = redisLimiter
	}

	tokens := session.NewTokenSource(cache, auditor, nil)

	client, err := transport.NewClient(transport.ClientConfig{
		BaseURL:          cfg.APIBaseURL,
		Validator:        validator,
		Limiter:          limiter,
		MinInterval:      cfg.MinRequestInterval,
		Tokens:           tokens,
		Codec:            codec,
		Connectivity:     connectivityProbe(cfg.APIBaseURL),
		MaxRetries:       cfg.RetryMax,
		RetryBaseDelay:   cfg.RetryBaseDelay,
		RequestTimeout:   cfg.RequestTimeout,
		ResponseCacheTTL: cfg.ResponseCacheTTL,
		Recorder:         auditor,
	})
	if err != nil {
		log.Fatalf("failed to init transport: %v", err)
	}
	tokens.SetRefresher(client)

	guard := session.NewGuard(cfg.SessionTimeout, auditor, nil)

	var confirmation usecase.ConfirmationPolicy
	if cfg.ConfirmationPolicyPath != "" {
		engine, err := policy.NewEngineFromBundlePath(ctx, cfg.ConfirmationPolicyPath)
		if err != nil {
			log.Fatalf("failed to load confirmation policy: %v", err)
		}
		confirmation = engine
	}

	txValidator := usecase.NewTransactionValidator(confirmation, nil)
	payments := usecase.NewPaymentService(txValidator, codec, client, cache, guard, nil)

	srv := httpapi.NewServer(cfg, httpapi.ServerDeps{
		Payments: payments,
		Auditor:  auditor,
		Keys:     keyManager,
	})
	log.Printf("walletd listening on %s (env %s, upstream %s)", cfg.HTTPAddr, cfg.Environment, cfg.APIBaseURL)
	if err := srv.Run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

// connectivityProbe dials the upstream host itself; an unparseable base URL
// falls back to the no-op probe so a bad config fails at request time with a
// clearer error.
func connectivityProbe(baseURL string) transport.Connectivity {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return transport.AlwaysOnline{}
	}
	host := parsed.Host
	if parsed.Port() == "" {
		switch parsed.Scheme {
		case "https":
			host += ":443"
		default:
			host += ":80"
		}
	}
	return transport.NewDialChecker(host)
}
