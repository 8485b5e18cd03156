// Package httpcache provides a http.RoundTripper implementation that works as a
// mostly RFC 9111 compliant cache for HTTP responses.
package httpcache

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// TransportOption is a function that configures a Transport.
// Use the With* functions to create TransportOptions.
type TransportOption func(*Transport) error

// WithMarkCachedResponses configures whether responses returned from cache
// should include the X-From-Cache header.
// Default: true when using NewTransport
func WithMarkCachedResponses(mark bool) TransportOption {
	return func(t *Transport) error {
		t.MarkCachedResponses = mark
		return nil
	}
}

// WithSkipServerErrorsFromCache configures whether server errors (5xx status codes)
// should be served from cache. When true, server errors will not be served from cache
// even if they are fresh.
// Default: false
func WithSkipServerErrorsFromCache(skip bool) TransportOption {
	return func(t *Transport) error {
		t.SkipServerErrorsFromCache = skip
		return nil
	}
}

// WithAsyncRevalidateTimeout sets the context timeout for async requests
// triggered by stale-while-revalidate.
// If zero, no timeout is applied to async revalidation requests.
// Default: 0 (no timeout)
func WithAsyncRevalidateTimeout(timeout time.Duration) TransportOption {
	return func(t *Transport) error {
		t.AsyncRevalidateTimeout = timeout
		return nil
	}
}

// WithShouldCache sets the Transport's ShouldCache field. The field is not
// consulted when deciding whether to store a response: that decision uses a
// fixed status-code set (200, 203, 204, 300, 301, 308, 404, 405, 410, 414,
// 501, and 302/307 with explicit freshness or public/private) together with
// no-store, whether fn is nil or not.
func WithShouldCache(fn func(*http.Response) bool) TransportOption {
	return func(t *Transport) error {
		t.ShouldCache = fn
		return nil
	}
}

// WithCacheKeyHeaders specifies additional request headers to include in the cache key generation.
// This allows creating separate cache entries based on request header values.
// Common use cases include "Authorization" for user-specific caches or "Accept-Language"
// for locale-specific responses.
// Header names are case-insensitive and will be canonicalized.
// Example: []string{"Authorization", "Accept-Language"}
// Note: This is different from the HTTP Vary response header mechanism, which is handled separately.
func WithCacheKeyHeaders(headers []string) TransportOption {
	return func(t *Transport) error {
		t.CacheKeyHeaders = headers
		return nil
	}
}

// WithDisableWarningHeader disables the deprecated Warning header (RFC 7234) in responses.
// RFC 9111 has obsoleted the Warning header field, making it no longer part of the standard.
// When true, Warning headers (110, 111, etc.) will not be added to cached responses.
// Default: false (Warning headers are enabled for backward compatibility).
// Set to true to comply with RFC 9111 and avoid deprecated headers.
func WithDisableWarningHeader(disable bool) TransportOption {
	return func(t *Transport) error {
		t.DisableWarningHeader = disable
		return nil
	}
}

// WithEnableStaleMarking switches failed-revalidation handling from hard
// deletion to soft eviction: when a conditional revalidation fails without
// a stale-if-error directive to rely on, the entry is marked stale (MarkStale)
// rather than deleted, provided the Cache backend implements StaleMarker.
// It also makes manually marked-stale entries force revalidation even while
// still within their freshness lifetime.
// Default: false (failed revalidations are deleted outright).
func WithEnableStaleMarking(enable bool) TransportOption {
	return func(t *Transport) error {
		t.EnableStaleMarking = enable
		return nil
	}
}

// WithTransport sets the underlying http.RoundTripper used to make requests.
// If nil, http.DefaultTransport is used.
func WithTransport(rt http.RoundTripper) TransportOption {
	return func(t *Transport) error {
		t.Transport = rt
		return nil
	}
}

// WithLogger sets the *slog.Logger used by this Transport. If unset, the
// Transport falls back to the package-level logger returned by GetLogger.
func WithLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) error {
		t.logger = logger
		return nil
	}
}

// WithEncryption enables AES-256-GCM encryption for cached data.
// The passphrase is used to derive an encryption key using scrypt.
// When enabled, all cached data is encrypted before storage and decrypted on retrieval.
// The passphrase must be kept secret and consistent across application restarts.
// Returns an error if the passphrase is empty or encryption initialization fails.
func WithEncryption(passphrase string) TransportOption {
	return func(t *Transport) error {
		if passphrase == "" {
			return fmt.Errorf("encryption passphrase cannot be empty")
		}
		gcm, err := initEncryption(passphrase)
		if err != nil {
			return err
		}
		if t.security == nil {
			t.security = &securityConfig{}
		}
		t.security.gcm = gcm
		t.security.passphrase = passphrase
		return nil
	}
}
