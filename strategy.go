package httpcache

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Strategy is the outcome of a StrategyFactory computation: the request (if
// any) to send over the network, paired with the cached response (if any)
// eligible to serve or revalidate against. Exactly four combinations are
// legal; see compute.
type Strategy struct {
	// NetworkRequest is nil when the cache alone can satisfy the request.
	NetworkRequest *http.Request
	// CacheResponse is nil when the stored entry is unusable and a plain
	// network fetch is required.
	CacheResponse *http.Response

	// freshness classifies CacheResponse for the X-Cache-Freshness
	// diagnostic header and decides whether serving it should also trigger
	// a background revalidation (stale-while-revalidate).
	freshness int
}

// onlyNetwork reports whether the strategy must hit the network with no
// usable cached candidate.
func (s Strategy) onlyNetwork() bool {
	return s.NetworkRequest != nil && s.CacheResponse == nil
}

// onlyCache reports whether the strategy can be served from the cache with
// no network round trip.
func (s Strategy) onlyCache() bool {
	return s.NetworkRequest == nil && s.CacheResponse != nil
}

// conditional reports whether the strategy is a revalidation: both a
// network request (carrying a validator) and the candidate to fall back to.
func (s Strategy) conditional() bool {
	return s.NetworkRequest != nil && s.CacheResponse != nil
}

// unsatisfiable reports whether neither field is set: cache insufficient and
// the caller forbade network use (only-if-cached).
func (s Strategy) unsatisfiable() bool {
	return s.NetworkRequest == nil && s.CacheResponse == nil
}

// strategyMetadata is derived once, at factory construction, from a stored
// response's headers. Unparseable dates are absent, never errors.
type strategyMetadata struct {
	hasServedDate bool
	servedDate    time.Time

	hasLastModified bool
	lastModified    time.Time

	hasExpires bool
	expires    time.Time

	etag string

	ageSeconds int64 // -1 if absent

	sentRequestMillis     int64
	receivedResponseMillis int64
}

func newStrategyMetadata(resp *http.Response) strategyMetadata {
	m := strategyMetadata{ageSeconds: -1}

	if d, err := Date(resp.Header); err == nil {
		m.servedDate, m.hasServedDate = d, true
	}
	if v := resp.Header.Get(headerLastModified); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			m.lastModified, m.hasLastModified = t, true
		}
	}
	if v := resp.Header.Get(headerExpires); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			m.expires, m.hasExpires = t, true
		}
	}
	m.etag = resp.Header.Get(headerETag)

	if v := resp.Header.Get(headerAge); v != "" {
		if age, err := parseAgeHeader(v); err == nil {
			m.ageSeconds = age
		}
	}

	m.sentRequestMillis = extensionMillis(resp.Header, xHttpcacheSentAt)
	m.receivedResponseMillis = extensionMillis(resp.Header, xHttpcacheReceivedAt)
	if m.receivedResponseMillis == 0 {
		// xHttpcacheCachedAt is accepted as a legacy alias for received-at.
		m.receivedResponseMillis = extensionMillis(resp.Header, xHttpcacheCachedAt)
	}

	return m
}

func extensionMillis(h http.Header, name string) int64 {
	v := h.Get(name)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// cacheableStatusCodes are always cacheable regardless of headers. 302 and
// 307 are cacheable only conditionally; see isCacheable.
var cacheableStatusCodes = map[int]bool{
	http.StatusOK:                   true, // 200
	http.StatusNonAuthoritativeInfo:  true, // 203
	http.StatusNoContent:             true, // 204
	http.StatusMultipleChoices:       true, // 300
	http.StatusMovedPermanently:      true, // 301
	http.StatusNotFound:              true, // 404
	http.StatusMethodNotAllowed:      true, // 405
	http.StatusGone:                  true, // 410
	http.StatusRequestURITooLong:     true, // 414
	http.StatusNotImplemented:        true, // 501
	http.StatusPermanentRedirect:     true, // 308
}

var conditionallyCacheableStatusCodes = map[int]bool{
	http.StatusFound:            true, // 302
	http.StatusTemporaryRedirect: true, // 307
}

// isCacheable reports whether resp may be used as, or become, a stored
// cache entry for req. The status-code gate comes from the client-cache
// decision core; the no-store check reuses the same directive logic used
// to gate writes elsewhere.
func isCacheable(resp *http.Response, req *http.Request, log *slog.Logger) bool {
	code := resp.StatusCode
	switch {
	case cacheableStatusCodes[code]:
		// always eligible, subject to no-store below
	case conditionallyCacheableStatusCodes[code]:
		respCC := parseCacheControl(resp.Header, log)
		_, hasMaxAge := respCC[cacheControlMaxAge]
		_, hasPublic := respCC[cacheControlPublic]
		_, hasPrivate := respCC[cacheControlPrivate]
		if resp.Header.Get(headerExpires) == "" && !hasMaxAge && !hasPublic && !hasPrivate {
			return false
		}
	default:
		return false
	}

	reqCC := parseCacheControl(req.Header, log)
	respCC := parseCacheControl(resp.Header, log)
	return canStore(reqCC, respCC)
}

// hasConditions reports whether req already carries a caller-supplied
// validator, in which case the built-in conditional synthesis is skipped to
// avoid double-validation.
func hasConditions(req *http.Request) bool {
	return req.Header.Get(headerIfModifiedSince) != "" || req.Header.Get(headerIfNoneMatch) != ""
}

// strategyFactory computes a Strategy for a single request against an
// optional stored candidate. Construction parses the candidate's headers
// once; compute is pure and may be called at most once per factory.
type strategyFactory struct {
	now                time.Time
	request            *http.Request
	stored             *http.Response
	meta               strategyMetadata
	log                *slog.Logger
	skipServerErrors   bool
}

func newStrategyFactory(now time.Time, request *http.Request, stored *http.Response, log *slog.Logger) *strategyFactory {
	f := &strategyFactory{now: now, request: request, stored: stored, log: log}
	if stored != nil {
		f.meta = newStrategyMetadata(stored)
	}
	return f
}

// compute implements the decision cascade of Section 4.1.
func (f *strategyFactory) compute() Strategy {
	candidate := f.innerCandidate()

	reqCC := parseCacheControl(f.request.Header, f.log)
	if _, onlyIfCached := reqCC[cacheControlOnlyIfCached]; onlyIfCached && candidate.NetworkRequest != nil {
		return Strategy{}
	}
	return candidate
}

func (f *strategyFactory) innerCandidate() Strategy {
	if f.stored == nil {
		return Strategy{NetworkRequest: f.request}
	}

	if f.request.URL.Scheme == "https" && f.stored.TLS == nil {
		return Strategy{NetworkRequest: f.request}
	}

	if !isCacheable(f.stored, f.request, f.log) {
		return Strategy{NetworkRequest: f.request}
	}

	reqCC := parseCacheControl(f.request.Header, f.log)
	if _, noCache := reqCC[cacheControlNoCache]; noCache || hasConditions(f.request) {
		return Strategy{NetworkRequest: f.request}
	}

	respCC := parseCacheControl(f.stored.Header, f.log)
	if _, immutable := respCC[cacheControlImmutable]; immutable {
		return Strategy{CacheResponse: f.stored}
	}

	if strategy, ok := f.freshnessCandidate(reqCC, respCC); ok {
		return strategy
	}

	return f.conditionalCandidate()
}

func (f *strategyFactory) freshnessCandidate(reqCC, respCC cacheControl) (Strategy, bool) {
	ageMillis := f.cacheResponseAge()
	freshMillis, heuristic := f.computeFreshnessLifetime()

	if v, ok := reqCC[cacheControlMaxAge]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			if reqMax := n * 1000; reqMax < freshMillis {
				freshMillis = reqMax
			}
		}
	}

	var minFreshMillis int64
	if v, ok := reqCC[cacheControlMinFresh]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			minFreshMillis = n * 1000
		}
	}

	var maxStaleMillis int64
	if _, mustRevalidate := respCC[cacheControlMustRevalidate]; !mustRevalidate {
		if v, ok := reqCC[cacheControlMaxStale]; ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
				maxStaleMillis = n * 1000
			}
		}
	}

	if _, noCache := respCC[cacheControlNoCache]; noCache {
		return Strategy{}, false
	}
	if f.skipServerErrors && f.stored.StatusCode >= 500 {
		return Strategy{}, false
	}

	if ageMillis+minFreshMillis < freshMillis {
		served := cloneResponseShallow(f.stored)
		addHeuristicWarningIfApplicable(served, ageMillis, heuristic)
		return Strategy{CacheResponse: served, freshness: fresh}, true
	}

	if _, mustRevalidate := respCC[cacheControlMustRevalidate]; !mustRevalidate {
		if v, ok := respCC[cacheControlStaleWhileRevalidate]; ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
				if swrMillis := saturatingMul1000(n); ageMillis+minFreshMillis < freshMillis+swrMillis {
					served := cloneResponseShallow(f.stored)
					addStaleWarning(served)
					addHeuristicWarningIfApplicable(served, ageMillis, heuristic)
					return Strategy{CacheResponse: served, freshness: staleWhileRevalidate}, true
				}
			}
		}
	}

	if ageMillis+minFreshMillis >= freshMillis+maxStaleMillis {
		return Strategy{}, false
	}

	served := cloneResponseShallow(f.stored)
	addStaleWarning(served)
	addHeuristicWarningIfApplicable(served, ageMillis, heuristic)
	return Strategy{CacheResponse: served, freshness: stale}, true
}

// addHeuristicWarningIfApplicable adds the RFC 7234 Warning: 113 "Heuristic
// expiration" header whenever the stored response's freshness lifetime was
// guessed (no explicit max-age/s-maxage/Expires) and it is more than 24
// hours old. This check is independent of which sub-branch serves the
// response — fresh, stale-while-revalidate, or stale-within-max-stale all
// qualify, matching OkHttp's CacheStrategy, which applies it inside a
// single combined "serve from cache" branch rather than per sub-case.
func addHeuristicWarningIfApplicable(resp *http.Response, ageMillis int64, heuristic bool) {
	if ageMillis > 86400000 && heuristic {
		addHeuristicExpirationWarning(resp)
	}
}

func (f *strategyFactory) conditionalCandidate() Strategy {
	req := f.request
	switch {
	case f.meta.etag != "":
		req = cloneRequest(req)
		req.Header.Set(headerIfNoneMatch, f.meta.etag)
	case f.meta.hasLastModified:
		req = cloneRequest(req)
		req.Header.Set(headerIfModifiedSince, f.meta.lastModified.UTC().Format(http.TimeFormat))
	case f.meta.hasServedDate:
		req = cloneRequest(req)
		req.Header.Set(headerIfModifiedSince, f.meta.servedDate.UTC().Format(http.TimeFormat))
	default:
		return Strategy{NetworkRequest: f.request}
	}
	return Strategy{NetworkRequest: req, CacheResponse: f.stored}
}

// cacheResponseAge implements RFC 7234 Section 4.2.3 (Section 4.1.1 here).
func (f *strategyFactory) cacheResponseAge() int64 {
	nowMillis := f.now.UnixMilli()

	var apparentReceivedAge int64
	if f.meta.hasServedDate && f.meta.receivedResponseMillis != 0 {
		if d := f.meta.receivedResponseMillis - f.meta.servedDate.UnixMilli(); d > 0 {
			apparentReceivedAge = d
		}
	}

	receivedAge := apparentReceivedAge
	if f.meta.ageSeconds >= 0 {
		if ageMillis := saturatingMul1000(f.meta.ageSeconds); ageMillis > receivedAge {
			receivedAge = ageMillis
		}
	}

	responseDuration := f.meta.receivedResponseMillis - f.meta.sentRequestMillis
	residentDuration := nowMillis - f.meta.receivedResponseMillis

	return receivedAge + responseDuration + residentDuration
}

func saturatingMul1000(seconds int64) int64 {
	const max = int64(1) << 62
	if seconds > max/1000 {
		return max
	}
	return seconds * 1000
}

// computeFreshnessLifetime implements Section 4.1.2/4.1.3.
func (f *strategyFactory) computeFreshnessLifetime() (millis int64, heuristic bool) {
	respCC := parseCacheControl(f.stored.Header, f.log)

	if v, ok := respCC[cacheControlMaxAge]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			return saturatingMul1000(n), false
		}
	}

	if f.meta.hasExpires {
		servedMillis := f.meta.receivedResponseMillis
		if f.meta.hasServedDate {
			servedMillis = f.meta.servedDate.UnixMilli()
		}
		delta := f.meta.expires.UnixMilli() - servedMillis
		if delta < 0 {
			delta = 0
		}
		return delta, false
	}

	if f.meta.hasLastModified && f.stored.Request != nil && f.stored.Request.URL.RawQuery == "" {
		servedMillis := f.meta.sentRequestMillis
		if f.meta.hasServedDate {
			servedMillis = f.meta.servedDate.UnixMilli()
		}
		delta := servedMillis - f.meta.lastModified.UnixMilli()
		if delta < 0 {
			delta = 0
		}
		return delta / 10, true
	}

	return 0, false
}

// freshnessString renders a Strategy.freshness classification for the
// X-Cache-Freshness diagnostic header.
func freshnessString(classification int) string {
	switch classification {
	case fresh:
		return freshnessStringFresh
	case staleWhileRevalidate:
		return freshnessStringStaleWhileRevalidate
	case stale:
		return freshnessStringStale
	case transparent:
		return freshnessStringTransparent
	default:
		return freshnessStringUnknown
	}
}

// cloneResponseShallow copies a response header-wise so warning headers
// added along the freshness path never mutate the stored entry's own
// header map, which may still be shared with the Store's cache.
func cloneResponseShallow(resp *http.Response) *http.Response {
	clone := *resp
	clone.Header = resp.Header.Clone()
	return &clone
}
