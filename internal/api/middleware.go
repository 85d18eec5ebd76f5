/**
 * @description
 * This file contains the authentication middleware for the wallet endpoints.
 * Tokens are Clerk session JWTs verified against the instance's JWKS.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 * - golang.org/x/sync/singleflight: One JWKS fetch per refresh.
 */

package api

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// UserIDContextKey is a custom type for the context key to avoid collisions.
type UserIDContextKey string

const (
	clerkUserIDKey UserIDContextKey = "clerkUserID"
	clerkEmailKey  UserIDContextKey = "clerkEmail"
)

const (
	jwksCacheTTL           = 10 * time.Minute
	jwksMinRefreshInterval = 30 * time.Second
)

// AuthConfig configures token validation. Empty Issuer/Audience skip those checks.
type AuthConfig struct {
	JWKSURL  string
	Issuer   string
	Audience string
}

// ClerkAuthMiddleware creates a middleware that validates JWT tokens from Clerk.
func ClerkAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	keys := newJWKSCache(cfg.JWKSURL, jwksCacheTTL)

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				kid, ok := token.Header["kid"].(string)
				if !ok {
					return nil, fmt.Errorf("kid not found in token header")
				}
				return keys.key(r.Context(), kid)
			}, opts...)
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			userID, err := claims.GetSubject()
			if err != nil || userID == "" {
				writeError(w, http.StatusUnauthorized, "User ID not found in token")
				return
			}

			ctx := context.WithValue(r.Context(), clerkUserIDKey, userID)
			if email, ok := claims["email"].(string); ok && email != "" {
				ctx = context.WithValue(ctx, clerkEmailKey, email)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClerkUserID retrieves the Clerk User ID from the request context.
func GetClerkUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(clerkUserIDKey).(string)
	return userID, ok
}

// GetClerkEmail returns the email claim when the session token carries one.
func GetClerkEmail(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(clerkEmailKey).(string)
	return email, ok
}

// jwksCache holds the signing keys and refetches them when they expire or an
// unknown kid shows up after a key rotation. Fetches happen outside the lock,
// concurrent refreshes share one request, and unknown kids trigger at most one
// refetch per minRefresh.
type jwksCache struct {
	url        string
	ttl        time.Duration
	minRefresh time.Duration
	client     *http.Client
	group      singleflight.Group

	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	refreshedAt time.Time
}

func newJWKSCache(url string, ttl time.Duration) *jwksCache {
	return &jwksCache{
		url:        url,
		ttl:        ttl,
		minRefresh: jwksMinRefreshInterval,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *jwksCache) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	cached, ok := c.keys[kid]
	fresh := time.Since(c.fetchedAt) < c.ttl
	throttled := time.Since(c.refreshedAt) < c.minRefresh
	c.mu.Unlock()

	if ok && (fresh || throttled) {
		return cached, nil
	}
	if throttled {
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}

	if _, err, _ := c.group.Do("jwks", func() (interface{}, error) {
		return nil, c.refresh(ctx)
	}); err != nil {
		if ok {
			return cached, nil
		}
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if key, ok := c.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("key with kid %s not found", kid)
}

func (c *jwksCache) refresh(ctx context.Context) error {
	keys, err := c.fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshedAt = time.Now()
	if err != nil {
		return err
	}
	c.keys = keys
	c.fetchedAt = c.refreshedAt
	return nil
}

func (c *jwksCache) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, err
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			return nil, fmt.Errorf("invalid jwk %s: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

// parseRSAPublicKey parses an RSA public key from its base64url modulus and exponent.
func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var exp uint64
	for _, b := range eb {
		exp = (exp << 8) | uint64(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(exp),
	}, nil
}
