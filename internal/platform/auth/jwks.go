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
	defaultJWKSCacheTTL = 5 * time.Minute
	// An unknown kid forces a refetch, but no more often than this.
	minRefetchInterval = 10 * time.Second
)

type JWKSKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type JWKSResponse struct {
	Keys []JWKSKey `json:"keys"`
}

// JWKSCache holds the identity provider's RSA signing keys by kid.
type JWKSCache struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time

	// refresh serializes fetches so a burst of requests with a new kid
	// triggers one round trip.
	refresh sync.Mutex
}

func NewJWKSCache(url string, ttl time.Duration) *JWKSCache {
	return &JWKSCache{
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: 10 * time.Second},
		keys:   make(map[string]*rsa.PublicKey),
	}
}

func (c *JWKSCache) lookup(kid string) (key *rsa.PublicKey, fresh bool, age time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	age = time.Since(c.fetchedAt)
	key = c.keys[kid]
	return key, key != nil && age <= c.ttl, age
}

// GetKey returns the key for kid, refetching the set when it is stale or
// does not contain kid.
func (c *JWKSCache) GetKey(kid string) (*rsa.PublicKey, error) {
	if key, fresh, _ := c.lookup(kid); fresh {
		return key, nil
	}

	c.refresh.Lock()
	defer c.refresh.Unlock()

	key, fresh, age := c.lookup(kid)
	if fresh {
		return key, nil
	}
	if key == nil || age > c.ttl {
		if key == nil && age < minRefetchInterval {
			return nil, fmt.Errorf("unknown signing key %q", kid)
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.client.Timeout)
		defer cancel()
		if err := c.fetch(ctx); err != nil {
			if key != nil {
				// Keep verifying with the stale key while the provider is down.
				return key, nil
			}
			return nil, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if key := c.keys[kid]; key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("unknown signing key %q", kid)
}

// Keyfunc adapts the cache for jwt.Parse.
func (c *JWKSCache) Keyfunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
	}
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token has no kid header")
	}
	return c.GetKey(kid)
}

func (c *JWKSCache) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var set JWKSResponse
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		if pub, err := k.rsaKey(); err == nil {
			keys[k.Kid] = pub
		}
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

func (k JWKSKey) rsaKey() (*rsa.PublicKey, error) {
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
		return nil, errors.New("bad exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
