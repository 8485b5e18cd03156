//go:build !appengine
// +build !appengine

// Package memcache provides an implementation of httpcache.Cache that uses
// gomemcache to store cached responses.
//
// When built for Google App Engine, this package will provide an
// implementation that uses App Engine's memcache service.  See the
// appengine.go file in this package for details.
package memcache

import (
	"context"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/relaycache/httpcache"
)

// Cache is an implementation of httpcache.Cache that caches responses in a
// memcache server.
type Cache struct {
	*memcache.Client
}

// cacheKey modifies an httpcache key for use in memcache.  Specifically, it
// prefixes keys to avoid collision with other data stored in memcache.
func cacheKey(key string) string {
	return "httpcache:" + key
}

// Get returns the response corresponding to key if present.
// The context parameter is accepted for interface compliance; gomemcache
// does not propagate context cancellation to its requests.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	item, err := c.Client.Get(cacheKey(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return nil, false, nil
		}
		return nil, false, err
	}
	return item.Value, true, nil
}

// Set saves a response to the cache as key.
func (c *Cache) Set(_ context.Context, key string, resp []byte) error {
	item := &memcache.Item{
		Key:   cacheKey(key),
		Value: resp,
	}
	return c.Client.Set(item)
}

// Delete removes the response with key from the cache.
func (c *Cache) Delete(_ context.Context, key string) error {
	if err := c.Client.Delete(cacheKey(key)); err != nil && err != memcache.ErrCacheMiss {
		return err
	}
	return nil
}

// DeleteAll flushes every entry in the memcache server(s). Intended for
// test setup; memcache has no scoped-prefix delete.
func (c *Cache) DeleteAll() error {
	return c.Client.FlushAll()
}

// New returns a new Cache using the provided memcache server(s) with equal
// weight. If a server is listed multiple times, it gets a proportional amount
// of weight.
func New(server ...string) *Cache {
	return NewWithClient(memcache.New(server...))
}

// NewWithClient returns a new Cache with the given memcache client.
func NewWithClient(client *memcache.Client) *Cache {
	return &Cache{client}
}

var _ httpcache.Cache = &Cache{}
