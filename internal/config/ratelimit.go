package config

import (
	"os"
	"strconv"
	"time"
)

// RateLimitConfig tunes the distributed token-bucket limiter that guards the
// credential endpoints (register, login, refresh). One bucket exists per key;
// the key strategy decides how requests are grouped.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int           // bucket size, i.e. the allowed burst
	RefillTokens   int           // tokens added per interval
	RefillInterval time.Duration // refill cadence
	TTL            time.Duration // idle bucket expiry in Redis
	KeyStrategy    string        // ip, user, route, or combinations like ip_user_route
	Prefix         string        // Redis key prefix
	Debug          bool
}

// LoadRateLimitConfig reads the limiter settings from the environment. The
// defaults allow a short burst of credential attempts and then one request
// per two seconds, which is ample for humans and hostile to brute force.
func LoadRateLimitConfig() RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true),
		Capacity:       envInt("RATE_LIMIT_CAPACITY", 10),
		RefillTokens:   envInt("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", 2*time.Second),
		TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:    envStr("RATE_LIMIT_KEY_STRATEGY", "ip_route"),
		Prefix:         envStr("RATE_LIMIT_PREFIX", "rl"),
		Debug:          envBool("RATE_LIMIT_DEBUG", false),
	}

	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.RefillTokens < 1 {
		cfg.RefillTokens = 1
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Second
	}
	// A bucket must outlive several refill cycles or it resets itself by
	// expiring mid-window.
	if min := 5 * cfg.RefillInterval; cfg.TTL < min {
		cfg.TTL = min
	}
	return cfg
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
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

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}
