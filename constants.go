package httpcache

// HTTP methods relevant to cache-key computation and unsafe-method invalidation.
const (
	methodGET    = "GET"
	methodHEAD   = "HEAD"
	methodPOST   = "POST"
	methodPUT    = "PUT"
	methodDELETE = "DELETE"
	methodPATCH  = "PATCH"
)

// Header names used throughout the decision core, in canonical form; http.Header
// lookups are case-insensitive via http.CanonicalHeaderKey.
const (
	headerAge             = "Age"
	headerPragma          = "Pragma"
	headerWarning         = "Warning"
	headerLocation        = "Location"
	headerContentLocation = "Content-Location"
	headerLastModified    = "Last-Modified"
	headerETag            = "ETag"
	headerVary            = "Vary"
	headerDate            = "Date"
	headerExpires         = "Expires"
	headerIfNoneMatch     = "If-None-Match"
	headerIfModifiedSince = "If-Modified-Since"
	headerAuthorization   = "Authorization"
	headerContentLength   = "Content-Length"
)

// xHttpcacheSentAt and xHttpcacheReceivedAt are reserved response header
// extensions that persist OkHttp's sentRequestAtMillis/receivedResponseAtMillis
// (decimal Unix milliseconds) across a store round trip, so Age calculation
// (RFC 9111 Section 4.2.3) survives serialization. kvStore stamps both with the
// time it writes or updates the entry, so the sent and received times of a
// stored entry are equal. xHttpcacheCachedAt is accepted on read as a legacy alias for
// xHttpcacheReceivedAt. All three are stripped before a response reaches a caller.
const (
	xHttpcacheSentAt     = "X-Httpcache-Sent-At"
	xHttpcacheReceivedAt = "X-Httpcache-Received-At"
	xHttpcacheCachedAt   = "X-Httpcache-Cached-At"
)

// Cache-Control directive names (RFC 9111 Section 5.2).
const (
	cacheControlNoCache             = "no-cache"
	cacheControlNoStore             = "no-store"
	cacheControlMaxAge              = "max-age"
	cacheControlSMaxAge             = "s-maxage"
	cacheControlPrivate             = "private"
	cacheControlPublic              = "public"
	cacheControlMustRevalidate      = "must-revalidate"
	cacheControlMaxStale            = "max-stale"
	cacheControlMinFresh            = "min-fresh"
	cacheControlOnlyIfCached        = "only-if-cached"
	cacheControlImmutable           = "immutable"
	cacheControlStaleWhileRevalidate = "stale-while-revalidate"
	cacheControlStaleIfError        = "stale-if-error"
)

// Pragma directive value recognized for HTTP/1.0 compatibility (RFC 7234 Section 5.4).
const pragmaNoCache = "no-cache"

// Warning header codes (RFC 7234 Section 5.5, obsoleted by RFC 9111 but still
// emitted here for clients that rely on it). The 110 and 113 texts are the
// exact strings carried over from the strategy's freshness computation;
// 111 is a separate concern raised only by the stale-if-error fallback path
// when a revalidation attempt fails outright.
const (
	warningResponseIsStale       = `110 HttpURLConnection "Response is stale"`
	warningHeuristicExpiration   = `113 HttpURLConnection "Heuristic expiration"`
	warningRevalidationFailed    = `111 httpcache "Revalidation Failed"`
)

// freshness outcomes returned by the pure freshness computation.
const (
	stale = iota
	fresh
	transparent
	staleWhileRevalidate
)

const (
	freshnessStringFresh                = "fresh"
	freshnessStringStale                 = "stale"
	freshnessStringStaleWhileRevalidate  = "stale-while-revalidate"
	freshnessStringTransparent           = "transparent"
	freshnessStringUnknown               = "unknown"
)

const logConflictingDirectives = "conflicting Cache-Control directives detected"
