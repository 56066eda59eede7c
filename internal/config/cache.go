package config

import (
	"strings"
	"time"
)

// CacheConfig defines settings for the response cache middleware.
// When Enabled is false caching is disabled.  Methods lists the HTTP
// methods to cache (e.g. GET, HEAD).  TTL defines the lifetime of cache
// entries.  KeyStrategy determines which parts of the request contribute
// to the cache key.  When Redis is unreachable and LocalFallback is set,
// entries are kept in process memory instead.
type CacheConfig struct {
	Enabled       bool
	Methods       map[string]bool
	TTL           time.Duration
	KeyStrategy   string
	Prefix        string
	MaxBodyBytes  int
	LocalFallback bool
}

// LoadCacheConfig reads environment variables to build a CacheConfig.
// Defaults are used when variables are not set.  All methods are
// upper-cased.  Discovery changes with every claim, so the default TTL is
// short.
func LoadCacheConfig() CacheConfig {
	methods := map[string]bool{}
	for _, m := range envList("CACHE_METHODS", "GET") {
		methods[strings.ToUpper(m)] = true
	}
	return CacheConfig{
		Enabled:       envBool("CACHE_ENABLED", true),
		Methods:       methods,
		TTL:           envDur("CACHE_TTL", 5*time.Second),
		KeyStrategy:   envStr("CACHE_KEY_STRATEGY", "route_query"),
		Prefix:        envStr("CACHE_PREFIX", "cache"),
		MaxBodyBytes:  envInt("CACHE_MAX_BODY_BYTES", 1<<20),
		LocalFallback: envBool("CACHE_LOCAL_FALLBACK", true),
	}
}
