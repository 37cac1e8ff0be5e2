package device

import (
	"bytes"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedDevice is a write-through LRU block cache in front of another device
type CachedDevice struct {
	dev    BlockDevice
	cache  *lru.Cache[int64, []byte]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCachedDevice wraps dev with a cache holding up to size blocks
func NewCachedDevice(dev BlockDevice, size int) (*CachedDevice, error) {
	cache, err := lru.New[int64, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create block cache: %w", err)
	}
	return &CachedDevice{dev: dev, cache: cache}, nil
}

// Path returns the path of the wrapped device
func (c *CachedDevice) Path() string {
	return c.dev.Path()
}

// ReadBlock serves block n from the cache, falling back to the device
func (c *CachedDevice) ReadBlock(n int64, buf []byte) error {
	if cached, ok := c.cache.Get(n); ok && len(buf) == BlockSize {
		c.hits.Add(1)
		copy(buf, cached)
		return nil
	}

	c.misses.Add(1)
	if err := c.dev.ReadBlock(n, buf); err != nil {
		return err
	}
	c.cache.Add(n, bytes.Clone(buf))
	return nil
}

// WriteBlock writes through to the device, then refreshes the cached copy
func (c *CachedDevice) WriteBlock(n int64, buf []byte) error {
	if err := c.dev.WriteBlock(n, buf); err != nil {
		c.cache.Remove(n)
		return err
	}
	c.cache.Add(n, bytes.Clone(buf))
	return nil
}

// Sync syncs the wrapped device
func (c *CachedDevice) Sync() error {
	return c.dev.Sync()
}

// Close drops the cache and closes the wrapped device
func (c *CachedDevice) Close() error {
	c.cache.Purge()
	return c.dev.Close()
}

// CacheStats reports hits, misses and the number of cached blocks
func (c *CachedDevice) CacheStats() (hits, misses uint64, cached int) {
	return c.hits.Load(), c.misses.Load(), c.cache.Len()
}
