// Package httpcache provides a http.RoundTripper implementation that works as a
// mostly RFC 9111 compliant cache for HTTP responses.
package httpcache

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrNoDateHeader indicates that the HTTP headers contained no Date header.
var ErrNoDateHeader = errors.New("no Date header")

// Date parses and returns the value of the Date header.
func Date(respHeaders http.Header) (date time.Time, err error) {
	dateHeader := respHeaders.Get(headerDate)
	if dateHeader == "" {
		err = ErrNoDateHeader
		return
	}
	if date, err = http.ParseTime(dateHeader); err == nil {
		return
	}
	return time.Parse(time.RFC1123, dateHeader)
}

// parseAgeHeader parses a raw Age header value per RFC 9111 Section 5.1: a
// non-negative integer number of seconds. Any other shape is an error, and
// callers treat the age as absent rather than propagating it.
func parseAgeHeader(value string) (int64, error) {
	value = strings.TrimSpace(value)
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	if seconds < 0 {
		return 0, errors.New("negative Age header value")
	}
	return seconds, nil
}
