package main

import (
	"sync"
	"time"
)

// CatalogCache holds fetched provider model catalogs with a TTL, so the
// settings UI does not hammer upstream /models endpoints on every open.
type CatalogCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]catalogEntry
}

type catalogEntry struct {
	models    []ProviderModel
	fetchedAt time.Time
}

// NewCatalogCache builds an empty cache with the given entry lifetime.
func NewCatalogCache(ttl time.Duration) *CatalogCache {
	return &CatalogCache{ttl: ttl, entries: make(map[string]catalogEntry)}
}

// Get returns the cached catalog for a provider if present and fresh.
func (c *CatalogCache) Get(provider string) ([]ProviderModel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[provider]
	if !ok || time.Since(entry.fetchedAt) > c.ttl {
		return nil, false
	}
	return entry.models, true
}

// Set stores a freshly fetched catalog.
func (c *CatalogCache) Set(provider string, models []ProviderModel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[provider] = catalogEntry{models: models, fetchedAt: time.Now()}
}

// Invalidate drops a provider's entry.
func (c *CatalogCache) Invalidate(provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, provider)
}

// LastUpdated reports when a provider's catalog was fetched, if ever.
func (c *CatalogCache) LastUpdated(provider string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[provider]
	if !ok {
		return time.Time{}, false
	}
	return entry.fetchedAt, true
}
