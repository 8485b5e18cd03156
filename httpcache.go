// Package httpcache provides a http.RoundTripper implementation that works as a
// mostly RFC 9111 compliant cache for HTTP responses.
//
// It is only suitable for use as a 'private' cache (i.e. for a web-browser or an API-client
// and not for a shared proxy).
package httpcache

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// XFromCache is the header added to responses that are returned from the cache.
	XFromCache = "X-From-Cache"
	// XRevalidated is the header added to responses that got revalidated.
	XRevalidated = "X-Revalidated"
	// XStale is the header added to stale responses served on stale-if-error.
	XStale = "X-Stale"
	// XFreshness reports how a cache-served response was classified:
	// fresh, stale, or stale-while-revalidate.
	XFreshness = "X-Cache-Freshness"
)

// Transport is an implementation of http.RoundTripper that drives an RFC
// 9111 private-cache decision core: it computes a caching strategy for every
// request, serves stored responses directly when fresh, revalidates them
// with conditional requests otherwise, and writes newly cacheable network
// responses back to the store while streaming them to the caller.
type Transport struct {
	// Transport is the underlying http.RoundTripper used to make requests.
	// If nil, http.DefaultTransport is used.
	Transport http.RoundTripper
	// Cache is the byte-oriented storage backend. See the Cache interface.
	Cache Cache

	// MarkCachedResponses adds X-From-Cache/X-Revalidated headers to
	// responses served from, or revalidated against, the cache.
	MarkCachedResponses bool
	// SkipServerErrorsFromCache prevents stored 5xx responses from being
	// served fresh, forcing revalidation against the origin instead.
	SkipServerErrorsFromCache bool
	// ShouldCache is kept on the Transport but is not consulted: whether a
	// response is stored is decided by isCacheable's fixed status-code set.
	ShouldCache func(*http.Response) bool
	// CacheKeyHeaders lists additional request headers folded into the
	// store key, layered on top of method+URL.
	CacheKeyHeaders []string
	// DisableWarningHeader suppresses the RFC 7234 Warning header on
	// responses served from the cache.
	DisableWarningHeader bool
	// AsyncRevalidateTimeout bounds context timeouts for any
	// stale-while-revalidate background refresh triggered by this Transport.
	AsyncRevalidateTimeout time.Duration
	// EnableStaleMarking switches failed-revalidation handling from hard
	// deletion to soft eviction (MarkStale) when the Cache backend supports
	// it, and makes a manually marked-stale entry force revalidation even
	// while still within its freshness lifetime.
	EnableStaleMarking bool

	logger     *slog.Logger
	security   *securityConfig
	resilience *ResilienceConfig
}

// NewTransport returns a new Transport with the
// provided Cache implementation and MarkCachedResponses set to true
func NewTransport(c Cache, opts ...TransportOption) *Transport {
	t := &Transport{Cache: c, MarkCachedResponses: true}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			t.log().Warn("failed to apply transport option", "error", err)
		}
	}
	return t
}

// NewMemoryCacheTransport returns a new Transport using the in-memory cache implementation
func NewMemoryCacheTransport() *Transport {
	return NewTransport(NewMemoryCache())
}

// Client returns an *http.Client that caches responses.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// keyFunc returns the store key function for this Transport, honoring
// CacheKeyHeaders when configured.
func (t *Transport) keyFunc() KeyFunc {
	if len(t.CacheKeyHeaders) == 0 {
		return cacheKey
	}
	headers := t.CacheKeyHeaders
	return func(req *http.Request) string {
		return cacheKeyWithHeaders(req, headers)
	}
}

// cacheGet reads a raw value directly from the underlying Cache, applying
// the same key hashing and encryption kvStore uses for response entries.
// It exists for invalidation and diagnostics, not the request-serving path.
func (t *Transport) cacheGet(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok, err := t.Cache.Get(ctx, hashKey(key))
	if err != nil || !ok {
		return nil, ok, err
	}
	if t.security != nil && t.security.gcm != nil {
		raw, err = decrypt(t.security.gcm, raw)
		if err != nil {
			return nil, false, err
		}
	}
	return raw, true, nil
}

// cacheSet writes a raw value directly to the underlying Cache, applying the
// same key hashing and encryption kvStore uses for response entries.
func (t *Transport) cacheSet(ctx context.Context, key string, data []byte) error {
	if t.security != nil && t.security.gcm != nil {
		encrypted, err := encrypt(t.security.gcm, data)
		if err != nil {
			return err
		}
		data = encrypted
	}
	return t.Cache.Set(ctx, hashKey(key), data)
}

// cacheDelete removes a single store entry by key, used by invalidation.go.
func (t *Transport) cacheDelete(ctx context.Context, key string) error {
	return t.Cache.Delete(ctx, hashKey(key))
}

// cacheMarkStale marks a store entry stale without removing it, so it
// remains available as a stale-if-error fallback until genuinely evicted.
// It is a no-op, returning nil, if the underlying Cache doesn't implement
// StaleMarker.
func (t *Transport) cacheMarkStale(ctx context.Context, key string) error {
	marker, ok := t.Cache.(StaleMarker)
	if !ok {
		return nil
	}
	return marker.MarkStale(ctx, hashKey(key))
}

// RoundTrip takes a Request and returns a Response.
//
// If there is a fresh Response already in cache, then it will be returned without connecting to
// the server. If there is a stale Response, then any validators it contains will be set on the
// new request to give the server a chance to respond with NotModified; if that happens, the
// cached Response is returned instead.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	log := t.log()
	log.Debug("RoundTrip started", "method", req.Method, "url", req.URL.String())

	store := newKVStore(t.Cache, t.keyFunc(), t.security, log, t.EnableStaleMarking)

	underlying := t.Transport
	if underlying == nil {
		underlying = http.DefaultTransport
	}

	ic := &cacheInterceptor{
		store:                     store,
		now:                       time.Now,
		log:                       log,
		markCachedResponses:       t.MarkCachedResponses,
		disableWarningHeader:      t.DisableWarningHeader,
		skipServerErrorsFromCache: t.SkipServerErrorsFromCache,
		asyncRevalidateTimeout:    t.AsyncRevalidateTimeout,
		send: func(r *http.Request) (*http.Response, error) {
			return t.executeWithResilience(func() (*http.Response, error) {
				return underlying.RoundTrip(r)
			})
		},
	}

	resp, err := ic.intercept(req)
	if err != nil {
		log.Debug("RoundTrip completed", "error", err)
		return nil, err
	}

	if isUnsafeMethod(req.Method) {
		t.invalidateCache(req, resp)
	}

	log.Debug("RoundTrip completed", "status", resp.StatusCode)
	return resp, nil
}

const bodyDrainSize = 1 << 15 // 32KB, arbitrary limit for draining

// drainDiscardedBody reads and discards up to bodyDrainSize bytes from the body to allow
// connection reuse. It's used when a response is being discarded in favor of a cached one
// (e.g., a 304 or a stale-if-error fallback).
func drainDiscardedBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}

	if _, err := io.Copy(io.Discard, io.LimitReader(body, bodyDrainSize)); err != nil {
		GetLogger().Warn("failed to drain response body", "error", err)
	}

	if err := body.Close(); err != nil {
		GetLogger().Warn("failed to close response body", "error", err)
		return err
	}

	return nil
}
