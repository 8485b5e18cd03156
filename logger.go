package httpcache

import (
	"log/slog"
	"sync/atomic"
)

// pkgLogger holds the package-level logger used by backend and wrapper
// packages (diskcache, blobcache, mongodb, redis, ...) that have no
// Transport of their own to fall back on.
var pkgLogger atomic.Pointer[slog.Logger]

// SetLogger installs the package-level logger returned by GetLogger.
// Passing nil restores the default behavior of falling back to slog.Default().
func SetLogger(l *slog.Logger) {
	pkgLogger.Store(l)
}

// GetLogger returns the package-level logger, falling back to slog.Default()
// if none has been configured with SetLogger.
func GetLogger() *slog.Logger {
	if l := pkgLogger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

// log returns the logger for the Transport.
// If a logger is configured on the Transport, it returns that logger.
// Otherwise, it falls back to the package-level logger.
func (t *Transport) log() *slog.Logger {
	if t != nil && t.logger != nil {
		return t.logger
	}
	return GetLogger()
}
