package storage

import (
	"context"
	"time"

	"llm_keypool/internal/models"
)

// CredentialSource lists catalog credentials
type CredentialSource interface {
	ListUserCredentials(ctx context.Context, userID string) ([]models.Credential, error)
	ListSystemCredentials(ctx context.Context, provider models.Provider) ([]models.Credential, error)
}

// CachedCatalog fronts a credential source with a short-lived LRU cache.
// A disabled or deleted credential can keep appearing for up to one TTL.
type CachedCatalog struct {
	source CredentialSource
	cache  *LRUCache[[]models.Credential]
}

// NewCachedCatalog wraps source with a cache of the given size and TTL
func NewCachedCatalog(source CredentialSource, size int, ttl time.Duration, now func() time.Time) *CachedCatalog {
	return &CachedCatalog{
		source: source,
		cache:  NewLRUCache[[]models.Credential](size, ttl, now),
	}
}

func userCacheKey(userID string) string {
	return "user:" + userID
}

func systemCacheKey(provider models.Provider) string {
	return "system:" + string(provider)
}

// ListUserCredentials returns the user's credentials, from cache when fresh
func (c *CachedCatalog) ListUserCredentials(ctx context.Context, userID string) ([]models.Credential, error) {
	key := userCacheKey(userID)
	if creds, ok := c.cache.Get(key); ok {
		return cloneCredentials(creds), nil
	}

	creds, err := c.source.ListUserCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, cloneCredentials(creds))
	return creds, nil
}

// ListSystemCredentials returns the provider's system credentials, from cache when fresh
func (c *CachedCatalog) ListSystemCredentials(ctx context.Context, provider models.Provider) ([]models.Credential, error) {
	key := systemCacheKey(provider)
	if creds, ok := c.cache.Get(key); ok {
		return cloneCredentials(creds), nil
	}

	creds, err := c.source.ListSystemCredentials(ctx, provider)
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, cloneCredentials(creds))
	return creds, nil
}

// InvalidateUser drops the cached list of one user
func (c *CachedCatalog) InvalidateUser(userID string) {
	c.cache.Delete(userCacheKey(userID))
}

// InvalidateAll drops every cached list
func (c *CachedCatalog) InvalidateAll() {
	c.cache.Clear()
}

// cloneCredentials keeps callers from sorting or editing the cached slice
func cloneCredentials(creds []models.Credential) []models.Credential {
	if creds == nil {
		return nil
	}
	out := make([]models.Credential, len(creds))
	copy(out, creds)
	return out
}
