package httpcache

import (
	"net/http"
	"strings"
)

// hopByHopHeaders are always hop-by-hop per RFC 7230 Section 6.1, regardless
// of whether they are also named in a Connection header.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// contentSpecificHeaders describe the body rather than the exchange, so a
// cached value always wins over whatever the revalidation response carries.
var contentSpecificHeaders = map[string]struct{}{
	"Content-Length":   {},
	"Content-Encoding": {},
	"Content-Type":     {},
}

func isHopByHop(headers http.Header, name string) bool {
	name = http.CanonicalHeaderKey(name)
	if _, ok := hopByHopHeaders[name]; ok {
		return true
	}
	// RFC 7230 Section 6.1: headers listed in Connection are also hop-by-hop
	// for this message.
	for _, extra := range strings.Split(headers.Get("Connection"), ",") {
		if extra = strings.TrimSpace(extra); extra != "" && http.CanonicalHeaderKey(extra) == name {
			return true
		}
	}
	return false
}

func isEndToEnd(headers http.Header, name string) bool {
	return !isHopByHop(headers, name)
}

// getEndToEndHeaders returns the names in headers that are end-to-end for
// this message, i.e. neither always hop-by-hop nor listed in Connection.
func getEndToEndHeaders(headers http.Header) []string {
	var names []string
	for name := range headers {
		if isEndToEnd(headers, name) {
			names = append(names, name)
		}
	}
	return names
}

func isContentSpecificHeader(name string) bool {
	_, ok := contentSpecificHeaders[http.CanonicalHeaderKey(name)]
	return ok
}

// combine merges a cached response's headers with a revalidation network
// response's headers per RFC 7234 Section 4.3.4:
//   - a cached header survives if it is content-specific, hop-by-hop (for the
//     cached message), or the network response doesn't define it at all;
//     cached Warning values starting with "1" (1xx freshness warnings) never
//     survive regardless.
//   - a network header is added if it is end-to-end (for the network message)
//     and not content-specific.
func combine(cached, network http.Header) http.Header {
	result := make(http.Header, len(cached)+len(network))

	for name, values := range cached {
		if strings.EqualFold(name, headerWarning) {
			kept := values[:0:0]
			for _, v := range values {
				if !strings.HasPrefix(strings.TrimSpace(v), "1") {
					kept = append(kept, v)
				}
			}
			if len(kept) > 0 {
				result[name] = kept
			}
			continue
		}

		if isContentSpecificHeader(name) || isHopByHop(cached, name) || len(network[name]) == 0 {
			result[name] = values
		}
	}

	for name, values := range network {
		if isEndToEnd(network, name) && !isContentSpecificHeader(name) {
			result[name] = values
		}
	}

	return result
}

// stripBody returns a shallow copy of resp with its body replaced by an
// empty, already-closed reader. Used to attach a lightweight descriptor
// where the interceptor needs response metadata without a live body.
func stripBody(resp *http.Response) *http.Response {
	clone := *resp
	clone.Body = http.NoBody
	return &clone
}

// cloneRequest returns a shallow copy of r with its own Header map (the value
// slices are shared), so a validator can be set on the clone with Header.Set
// without mutating the caller's request.
func cloneRequest(r *http.Request) *http.Request {
	r2 := new(http.Request)
	*r2 = *r
	r2.Header = make(http.Header, len(r.Header))
	for k, v := range r.Header {
		r2.Header[k] = v
	}
	return r2
}
