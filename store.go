package httpcache

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strconv"
	"sync"
	"time"
)

// Cache is the low-level byte-oriented storage primitive. Every backend
// package (diskcache, blobcache, redis, ...) implements this interface;
// kvStore adapts it into the richer Store contract the interceptor consumes.
type Cache interface {
	// Get returns the []byte representation of a cached response and true if
	// present. A non-nil error is treated as a miss by the caller.
	Get(ctx context.Context, key string) (responseBytes []byte, ok bool, err error)
	// Set stores the []byte representation of a response against a key.
	Set(ctx context.Context, key string, responseBytes []byte) error
	// Delete removes the value associated with the key.
	Delete(ctx context.Context, key string) error
}

// MemoryCache is an implementation of Cache that stores responses in an
// in-memory map. It is the reference Store backend and the default used by
// NewMemoryCacheTransport.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryCache returns a new Cache that will store items in an in-memory map.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: map[string][]byte{}}
}

// Get returns the []byte representation of the response and true if present.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	resp, ok := c.items[key]
	return resp, ok, nil
}

// Set saves response resp to the cache with key.
func (c *MemoryCache) Set(_ context.Context, key string, resp []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = resp
	return nil
}

// Delete removes key from the cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

// CacheWriter is returned by Store.Put. Callers write the response body to
// it as it is streamed to the consumer; Close commits the entry, Abort
// discards it. Exactly one of Close/Abort is ever called.
type CacheWriter interface {
	Write(p []byte) (n int, err error)
	Abort() error
	Close() error
}

// Store is the contract the cache interceptor drives: lookup, begin-write,
// in-place header update after a 304, and invalidation, plus two telemetry
// hooks that must never raise.
type Store interface {
	Get(ctx context.Context, req *http.Request) (*http.Response, bool, error)
	Put(ctx context.Context, resp *http.Response) (CacheWriter, error)
	Update(ctx context.Context, old, newResp *http.Response) error
	Remove(ctx context.Context, req *http.Request) error
	// EvictOnFailedRevalidation handles an entry whose conditional
	// revalidation came back an error the stored response cannot mask with
	// stale-if-error. With stale marking enabled it soft-evicts the entry
	// (MarkStale, if the backend supports it) so a later request carrying a
	// wider max-stale or stale-if-error could still recover it; otherwise
	// it deletes the entry outright.
	EvictOnFailedRevalidation(ctx context.Context, req *http.Request) error
	TrackResponse(strategy Strategy)
	TrackConditionalCacheHit()
}

// StaleMarker is an optional Cache extension. Backends that implement it
// support soft eviction: MarkStale keeps an entry retrievable via GetStale
// instead of removing it outright, letting a later stale-if-error request
// still recover it.
type StaleMarker interface {
	MarkStale(ctx context.Context, key string) error
	IsStale(ctx context.Context, key string) (bool, error)
	GetStale(ctx context.Context, key string) ([]byte, bool, error)
}

// KeyFunc computes the store key for a request. The default, cacheKey,
// implements method+URL; WithCacheKeyHeaders layers request header values
// on top (see cachekey.go). This is key computation, not Vary negotiation:
// the store never inspects Vary, and holds exactly one entry per key.
type KeyFunc func(*http.Request) string

// kvStore adapts a byte-oriented Cache into the Store contract by
// serializing *http.Response with httputil.DumpResponse/http.ReadResponse,
// the same wire format the teacher's original root Transport used. Bodies
// are buffered fully before commit, since none of the backend Caches this
// module ships (Redis, Postgres, disk, ...) expose a partial-write API; the
// CacheWriter's Writing/Committed/Aborted state machine still gives callers
// the tee-as-you-read behavior the interceptor needs (see bodytee.go).
type kvStore struct {
	cache        Cache
	keyFunc      KeyFunc
	security     *securityConfig
	log          *slog.Logger
	staleMarking bool
}

func newKVStore(cache Cache, keyFunc KeyFunc, security *securityConfig, log *slog.Logger, staleMarking bool) *kvStore {
	if keyFunc == nil {
		keyFunc = cacheKey
	}
	return &kvStore{cache: cache, keyFunc: keyFunc, security: security, log: log, staleMarking: staleMarking}
}

func (s *kvStore) Get(ctx context.Context, req *http.Request) (*http.Response, bool, error) {
	key := hashKey(s.keyFunc(req))
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	if s.security != nil && s.security.gcm != nil {
		raw, err = decrypt(s.security.gcm, raw)
		if err != nil {
			return nil, false, err
		}
	}

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), req)
	if err != nil {
		return nil, false, err
	}

	if s.staleMarking {
		if marker, ok := s.cache.(StaleMarker); ok {
			if stale, _ := marker.IsStale(ctx, key); stale {
				forceRevalidation(resp)
			}
		}
	}

	return resp, true, nil
}

// forceRevalidation folds no-cache into a stored response's Cache-Control so
// the strategy factory routes it through conditional revalidation instead of
// serving it straight from the store, without discarding it as a fallback
// candidate for stale-if-error.
func forceRevalidation(resp *http.Response) {
	if cc := resp.Header.Get("Cache-Control"); cc != "" {
		resp.Header.Set("Cache-Control", cc+", "+cacheControlNoCache)
	} else {
		resp.Header.Set("Cache-Control", cacheControlNoCache)
	}
}

func (s *kvStore) EvictOnFailedRevalidation(ctx context.Context, req *http.Request) error {
	key := hashKey(s.keyFunc(req))
	if s.staleMarking {
		if marker, ok := s.cache.(StaleMarker); ok {
			return marker.MarkStale(ctx, key)
		}
	}
	return s.cache.Delete(ctx, key)
}

func (s *kvStore) Put(_ context.Context, resp *http.Response) (CacheWriter, error) {
	if resp.Request == nil {
		// No key can be derived without the originating request; decline.
		return nil, nil
	}
	header := &http.Response{
		Status:        resp.Status,
		StatusCode:    resp.StatusCode,
		Proto:         resp.Proto,
		ProtoMajor:    resp.ProtoMajor,
		ProtoMinor:    resp.ProtoMinor,
		Header:        resp.Header.Clone(),
		Request:       resp.Request,
		ContentLength: -1,
	}
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	header.Header.Set(xHttpcacheSentAt, now)
	header.Header.Set(xHttpcacheReceivedAt, now)
	return &kvCacheWriter{store: s, key: hashKey(s.keyFunc(resp.Request)), header: header}, nil
}

func (s *kvStore) Update(ctx context.Context, _ *http.Response, newResp *http.Response) error {
	if newResp.Request == nil {
		return nil
	}
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	newResp.Header.Set(xHttpcacheSentAt, now)
	newResp.Header.Set(xHttpcacheReceivedAt, now)
	raw, err := httputil.DumpResponse(newResp, true)
	stripExtensionHeaders(newResp.Header)
	if err != nil {
		return err
	}
	if s.security != nil && s.security.gcm != nil {
		raw, err = encrypt(s.security.gcm, raw)
		if err != nil {
			return err
		}
	}
	return s.cache.Set(ctx, hashKey(s.keyFunc(newResp.Request)), raw)
}

func (s *kvStore) Remove(ctx context.Context, req *http.Request) error {
	return s.cache.Delete(ctx, hashKey(s.keyFunc(req)))
}

func (s *kvStore) TrackResponse(Strategy)      {}
func (s *kvStore) TrackConditionalCacheHit() {}

// kvCacheWriter buffers a response body in memory and commits the full
// serialized response (status line, headers, body) to the backing Cache on
// Close. Abort discards the buffer without ever calling Cache.Set.
type kvCacheWriter struct {
	store  *kvStore
	key    string
	header *http.Response

	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *kvCacheWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *kvCacheWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	final := *w.header
	final.Body = http.NoBody
	raw, err := httputil.DumpResponse(&final, false)
	if err != nil {
		return err
	}
	raw = append(raw, w.buf.Bytes()...)

	if w.store.security != nil && w.store.security.gcm != nil {
		raw, err = encrypt(w.store.security.gcm, raw)
		if err != nil {
			return err
		}
	}
	return w.store.cache.Set(context.Background(), w.key, raw)
}

func (w *kvCacheWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Reset()
	return nil
}
