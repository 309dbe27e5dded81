package twitchapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// UserCache remembers the user behind a token so repeated validations skip Helix.
// Keys are token hashes.
type UserCache struct {
	lru *expirable.LRU[string, User]
}

// NewUserCache returns a cache holding up to size users for ttl each.
func NewUserCache(size int, ttl time.Duration) *UserCache {
	if size <= 0 {
		size = 16
	}
	return &UserCache{lru: expirable.NewLRU[string, User](size, nil, ttl)}
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the cached user for token, or asks Helix with that token and caches the
// answer. Failures are not cached.
func (c *UserCache) Lookup(ctx context.Context, hc *HelixClient, token string) (User, error) {
	key := tokenKey(token)
	if u, ok := c.lru.Get(key); ok {
		return u, nil
	}
	scoped := *hc
	scoped.Tokens = StaticToken(token)
	u, err := scoped.GetUser(ctx)
	if err != nil {
		return User{}, err
	}
	c.lru.Add(key, u)
	return u, nil
}

// Forget drops the entry for token.
func (c *UserCache) Forget(token string) {
	c.lru.Remove(tokenKey(token))
}
