package httpcache

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// cacheInterceptor drives the full decision-and-I/O cycle for a single
// request: lookup, strategy computation, the network call when required,
// conditional-response merging, and writing newly cacheable responses back
// to the store.
type cacheInterceptor struct {
	store                     Store
	send                      func(*http.Request) (*http.Response, error)
	now                       func() time.Time
	log                       *slog.Logger
	markCachedResponses       bool
	disableWarningHeader      bool
	skipServerErrorsFromCache bool
	asyncRevalidateTimeout    time.Duration
}

func (ic *cacheInterceptor) intercept(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	candidate, hasCandidate, lookupErr := ic.lookup(ctx, req)
	if lookupErr != nil {
		ic.log.Debug("store lookup failed, treating as cache miss", "error", lookupErr)
	}

	now := ic.now()
	factory := newStrategyFactory(now, req, candidate, ic.log)
	factory.skipServerErrors = ic.skipServerErrorsFromCache
	strategy := factory.compute()

	ic.store.TrackResponse(strategy)

	if hasCandidate && strategy.CacheResponse == nil {
		closeBody(candidate)
	}

	if strategy.unsatisfiable() {
		ic.log.Debug("cache miss")
		return newUnsatisfiableResponse(req), nil
	}

	if strategy.CacheResponse != nil {
		stripExtensionHeaders(strategy.CacheResponse.Header)
		if ic.disableWarningHeader {
			strategy.CacheResponse.Header.Del(headerWarning)
		}
	}

	if strategy.onlyCache() {
		ic.log.Debug("cache hit")
		ic.log.Debug("serving fresh response from cache")
		if ic.markCachedResponses {
			strategy.CacheResponse.Header.Set(XFromCache, "1")
		}
		strategy.CacheResponse.Header.Set(XFreshness, freshnessString(strategy.freshness))
		if strategy.freshness == staleWhileRevalidate {
			ic.triggerBackgroundRevalidate(req)
		}
		return strategy.CacheResponse, nil
	}

	ic.log.Debug("cache miss")
	networkResp, err := ic.send(strategy.NetworkRequest)
	if err != nil {
		if strategy.CacheResponse != nil && canStaleOnError(strategy.CacheResponse.Header, strategy.NetworkRequest.Header, ic.log) {
			addRevalidationFailedWarning(strategy.CacheResponse)
			if ic.markCachedResponses {
				strategy.CacheResponse.Header.Set(XStale, "1")
			}
			return strategy.CacheResponse, nil
		}
		if strategy.CacheResponse != nil {
			closeBody(strategy.CacheResponse)
			if everr := ic.store.EvictOnFailedRevalidation(ctx, strategy.NetworkRequest); everr != nil {
				ic.log.Debug("evict after failed revalidation failed", "error", everr)
			}
		}
		return nil, err
	}

	if strategy.CacheResponse != nil {
		if networkResp.StatusCode == http.StatusNotModified {
			merged := ic.mergeCachedAndNetwork(strategy.CacheResponse, networkResp)
			_ = drainDiscardedBody(networkResp.Body)
			ic.store.TrackConditionalCacheHit()
			if err := ic.store.Update(ctx, strategy.CacheResponse, merged); err != nil {
				ic.log.Debug("store update after 304 failed", "error", err)
			}
			if ic.markCachedResponses {
				merged.Header.Set(XRevalidated, "1")
			}
			return merged, nil
		}

		if networkResp.StatusCode >= 500 {
			if canStaleOnError(strategy.CacheResponse.Header, strategy.NetworkRequest.Header, ic.log) {
				_ = drainDiscardedBody(networkResp.Body)
				addRevalidationFailedWarning(strategy.CacheResponse)
				if ic.markCachedResponses {
					strategy.CacheResponse.Header.Set(XStale, "1")
				}
				return strategy.CacheResponse, nil
			}
			if everr := ic.store.EvictOnFailedRevalidation(ctx, strategy.NetworkRequest); everr != nil {
				ic.log.Debug("evict after failed revalidation failed", "error", everr)
			}
		}
		closeBody(strategy.CacheResponse)
	}

	response := networkResp

	if isCacheable(response, strategy.NetworkRequest, ic.log) && response.Body != nil {
		return ic.cacheAndReturn(ctx, response)
	}

	if isUnsafeMethod(strategy.NetworkRequest.Method) {
		if err := ic.store.Remove(ctx, strategy.NetworkRequest); err != nil {
			ic.log.Debug("store remove after unsafe method failed", "error", err)
		}
	}

	return response, nil
}

// lookup is the best-effort candidate read; Store I/O errors are treated as
// a miss rather than surfaced to the caller.
func (ic *cacheInterceptor) lookup(ctx context.Context, req *http.Request) (*http.Response, bool, error) {
	if !isLookupEligible(req) {
		return nil, false, nil
	}
	resp, ok, err := ic.store.Get(ctx, req)
	if err != nil {
		return nil, false, err
	}
	return resp, ok, nil
}

// isLookupEligible mirrors the cacheable-method gate applied before ever
// consulting the store: GET/HEAD only, and never for ranged requests.
func isLookupEligible(req *http.Request) bool {
	if req.Method != methodGET && req.Method != methodHEAD {
		return false
	}
	return req.Header.Get("Range") == ""
}

func (ic *cacheInterceptor) mergeCachedAndNetwork(cached, network *http.Response) *http.Response {
	merged := *cached
	merged.Header = combine(cached.Header, network.Header)
	merged.Request = network.Request
	stripExtensionHeaders(merged.Header)
	return &merged
}

func (ic *cacheInterceptor) cacheAndReturn(ctx context.Context, resp *http.Response) (*http.Response, error) {
	writer, err := ic.store.Put(ctx, resp)
	if err != nil || writer == nil {
		if err != nil {
			ic.log.Debug("store put failed, serving response uncached", "error", err)
		}
		return resp, nil
	}
	resp.Body = newCacheWritingBody(resp.Body, writer, ic.log)
	return resp, nil
}

// triggerBackgroundRevalidate refetches req in the background and replaces
// the store entry with the result, implementing stale-while-revalidate:
// the caller already has the stale response in hand, so failures here are
// logged and otherwise ignored.
func (ic *cacheInterceptor) triggerBackgroundRevalidate(req *http.Request) {
	clone := cloneRequest(req)
	go func() {
		ctx := context.Background()
		if ic.asyncRevalidateTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, ic.asyncRevalidateTimeout)
			defer cancel()
		}
		clone = clone.WithContext(ctx)

		resp, err := ic.send(clone)
		if err != nil {
			ic.log.Debug("background revalidation failed", "error", err)
			return
		}
		defer closeBody(resp)

		if resp.StatusCode != http.StatusOK || !isCacheable(resp, clone, ic.log) {
			return
		}

		writer, err := ic.store.Put(context.Background(), resp)
		if err != nil || writer == nil {
			return
		}
		if _, err := io.Copy(writer, resp.Body); err != nil {
			_ = writer.Abort()
			return
		}
		if err := writer.Close(); err != nil {
			ic.log.Debug("background revalidation store commit failed", "error", err)
		}
	}()
}

func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}

// stripExtensionHeaders removes the internal age-tracking extension headers
// before a response is handed back to the caller.
func stripExtensionHeaders(h http.Header) {
	h.Del(xHttpcacheSentAt)
	h.Del(xHttpcacheReceivedAt)
	h.Del(xHttpcacheCachedAt)
}

// newUnsatisfiableResponse synthesizes the bit-exact 504 response returned
// when only-if-cached forbids the network and the cache has nothing usable.
func newUnsatisfiableResponse(req *http.Request) *http.Response {
	return &http.Response{
		Status:     "504 Unsatisfiable Request (only-if-cached)",
		StatusCode: http.StatusGatewayTimeout,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Body:       http.NoBody,
		Request:    req,
	}
}
