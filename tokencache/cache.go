// Package tokencache holds the credential caches the identity client restores
// logins from.
package tokencache

import (
	"fmt"
	"sync"

	"golang.org/x/oauth2"
)

// CredentialCache stores OAuth2 tokens, including their refresh token and any
// ID token extra.
type CredentialCache interface {
	// Get returns the token for the issuer and key, or nil if none is
	// cached.
	Get(issuer, key string) (*oauth2.Token, error)
	// Set stores the token. A nil token removes the entry.
	Set(issuer, key string, token *oauth2.Token) error
	// Available reports whether the cache can be used in this environment.
	Available() bool
}

// MemoryCredentialCache keeps tokens for the life of the process.
type MemoryCredentialCache struct {
	mu sync.Mutex
	m  map[string]*oauth2.Token
}

var _ CredentialCache = (*MemoryCredentialCache)(nil)

func (c *MemoryCredentialCache) Get(issuer, key string) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[cacheKey(issuer, key)], nil
}

func (c *MemoryCredentialCache) Set(issuer, key string, token *oauth2.Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token == nil {
		delete(c.m, cacheKey(issuer, key))
		return nil
	}
	if c.m == nil {
		c.m = make(map[string]*oauth2.Token)
	}
	c.m[cacheKey(issuer, key)] = token
	return nil
}

func (c *MemoryCredentialCache) Available() bool {
	return true
}

// NullCredentialCache will not cache tokens. Use it to opt out of caching.
type NullCredentialCache struct{}

var _ CredentialCache = (*NullCredentialCache)(nil)

func (c *NullCredentialCache) Get(issuer, key string) (*oauth2.Token, error) {
	return nil, nil
}

func (c *NullCredentialCache) Set(issuer, key string, token *oauth2.Token) error {
	return nil
}

func (c *NullCredentialCache) Available() bool {
	return true
}

func cacheKey(issuer, key string) string {
	return fmt.Sprintf("%s;%s", issuer, key)
}
