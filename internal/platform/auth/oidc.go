package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const discoveryTimeout = 10 * time.Second

// OIDCProvider holds the fields of an OpenID discovery document the token
// verifier uses.
type OIDCProvider struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// Discover reads issuer/.well-known/openid-configuration.
func Discover(ctx context.Context, client *http.Client, issuer string) (*OIDCProvider, error) {
	url := strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oidc discovery: status %d", resp.StatusCode)
	}
	var p OIDCProvider
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("oidc discovery: decode: %w", err)
	}
	if p.JWKSURI == "" {
		return nil, errors.New("oidc discovery: document has no jwks_uri")
	}
	return &p, nil
}

// NewOIDCProvider runs Discover with a default client and timeout.
func NewOIDCProvider(issuer string) (*OIDCProvider, error) {
	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	defer cancel()
	return Discover(ctx, &http.Client{Timeout: discoveryTimeout}, issuer)
}
