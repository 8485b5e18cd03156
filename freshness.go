// Package httpcache provides a http.RoundTripper implementation that works as a
// mostly RFC 9111 compliant cache for HTTP responses.
package httpcache

import (
	"log/slog"
	"net/http"
	"time"
)

// timer is an interface for time-related operations, allowing for testing.
type timer interface {
	since(d time.Time) time.Duration
}

type realClock struct{}

func (c *realClock) since(d time.Time) time.Duration {
	return time.Since(d)
}

var clock timer = &realClock{}

// parseStaleIfError parses the stale-if-error directive from cache control
// (RFC 5861). acceptAny is true when the directive carries no value, meaning
// any staleness is acceptable on error.
func parseStaleIfError(cacheControl cacheControl) (lifetime time.Duration, acceptAny bool, found bool) {
	staleMaxAge, ok := cacheControl[cacheControlStaleIfError]
	if !ok {
		return 0, false, false
	}

	if staleMaxAge == "" {
		return 0, true, true
	}

	lifetime, err := time.ParseDuration(staleMaxAge + "s")
	if err != nil {
		return 0, false, true
	}

	return lifetime, false, true
}

// checkStaleIfErrorLifetime checks if the response is within the stale-if-error lifetime.
func checkStaleIfErrorLifetime(respHeaders http.Header, lifetime time.Duration) bool {
	date, err := Date(respHeaders)
	if err != nil {
		return false
	}
	currentAge := clock.since(date)
	return lifetime > currentAge
}

// canStaleOnError determines if a stale response can be returned on error
// per the stale-if-error cache control extension (RFC 5861).
func canStaleOnError(respHeaders, reqHeaders http.Header, log *slog.Logger) bool {
	respCacheControl := parseCacheControl(respHeaders, log)
	reqCacheControl := parseCacheControl(reqHeaders, log)

	lifetime := time.Duration(-1)

	if respLifetime, acceptAny, found := parseStaleIfError(respCacheControl); found {
		if acceptAny {
			return true
		}
		lifetime = respLifetime
	}

	if reqLifetime, acceptAny, found := parseStaleIfError(reqCacheControl); found {
		if acceptAny {
			return true
		}
		lifetime = reqLifetime
	}

	if lifetime >= 0 {
		return checkStaleIfErrorLifetime(respHeaders, lifetime)
	}

	return false
}
