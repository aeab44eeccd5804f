package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultJWKSTTL = 5 * time.Minute
	// Unknown kids trigger a refetch at most this often.
	minJWKSRefetch = 30 * time.Second
)

var errUnknownKID = errors.New("signing key not found in JWKS")

// jsonWebKey is the subset of RFC 7517 fields needed for RSA signature keys.
type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSCache holds the RSA signing keys published by the identity provider.
type JWKSCache struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time

	// refresh serializes fetches so a burst of misses hits the endpoint once.
	refresh sync.Mutex
}

func NewJWKSCache(url string, ttl time.Duration, client *http.Client) *JWKSCache {
	if ttl <= 0 {
		ttl = defaultJWKSTTL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKSCache{url: url, ttl: ttl, client: client}
}

// Key returns the public key for kid. Keys are refetched when the cache is
// older than the TTL, or when kid is unknown and the last fetch is older than
// minJWKSRefetch.
func (c *JWKSCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, fresh := c.lookup(kid); key != nil && fresh {
		return key, nil
	}

	c.refresh.Lock()
	defer c.refresh.Unlock()

	key, fresh := c.lookup(kid)
	if key != nil && fresh {
		return key, nil
	}
	if key == nil && c.age() < minJWKSRefetch {
		return nil, fmt.Errorf("%w: %q", errUnknownKID, kid)
	}

	keys, err := fetchJWKS(ctx, c.client, c.url)
	if err != nil {
		if key != nil {
			// Serve the stale key while the endpoint is unreachable.
			return key, nil
		}
		return nil, err
	}
	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	if key = keys[kid]; key == nil {
		return nil, fmt.Errorf("%w: %q", errUnknownKID, kid)
	}
	return key, nil
}

func (c *JWKSCache) lookup(kid string) (*rsa.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keys[kid], time.Since(c.fetchedAt) < c.ttl
}

func (c *JWKSCache) age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.fetchedAt)
}

func fetchJWKS(ctx context.Context, client *http.Client, url string) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build JWKS request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch JWKS: unexpected status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		if pub, err := k.rsaPublicKey(); err == nil {
			keys[k.Kid] = pub
		}
	}
	return keys, nil
}

func (k jsonWebKey) rsaPublicKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 3 {
		return nil, fmt.Errorf("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}

// jwksKeyFunc resolves a token's kid header through cache.
func jwksKeyFunc(ctx context.Context, cache *JWKSCache) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return cache.Key(ctx, kid)
	}
}
