// Package session resolves the bearer token on an inbound request to an
// authenticated subject string, following the teacher's JWT middleware
// (internal/platform/middleware/auth.go) and Redis client wrapper
// (internal/platform/redis/client.go), trimmed to the gateway's single
// "subject" identity instead of the teacher's user/session/client triple
// (spec.md §1 treats SSO/bearer resolution as an external collaborator;
// this package gives it a concrete, thin implementation per SPEC_FULL §2.2).
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	platformredis "fitsgw/internal/platform/redis"
)

// Claims is the subset of JWT claims the gateway trusts. Subject is the
// authenticated identity used by the access-check store.
type Claims struct {
	jwt.RegisteredClaims
}

// cache is the subset of *platformredis.Client the Validator needs, kept
// as an interface so tests can substitute an in-memory stand-in without a
// live Redis instance.
type cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Validator verifies bearer tokens and caches the resulting subject in
// Redis so a hot path of repeated requests from the same session does not
// re-run JWT signature verification on every call.
type Validator struct {
	signingKey []byte
	cache      cache
	cacheTTL   time.Duration
}

// New constructs a Validator. cache may be nil, in which case every call
// re-verifies the token's signature (no caching).
func New(signingKey string, redisClient *platformredis.Client, cacheTTL time.Duration) *Validator {
	v := &Validator{signingKey: []byte(signingKey), cacheTTL: cacheTTL}
	if redisClient != nil {
		v.cache = redisCache{redisClient}
	}
	return v
}

// ValidateToken resolves tokenString to its authenticated subject. A cache
// hit skips JWT verification entirely; a miss verifies the signature and
// claims, then populates the cache for subsequent calls.
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (string, error) {
	key := cacheKey(tokenString)

	if v.cache != nil {
		if subject, err := v.cache.Get(ctx, key); err == nil && subject != "" {
			return subject, nil
		}
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return v.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errExpiredToken
		}
		return "", errInvalidToken
	}
	if !parsed.Valid {
		return "", errInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return "", errInvalidToken
	}

	if v.cache != nil {
		_ = v.cache.Set(ctx, key, claims.Subject, v.cacheTTL)
	}
	return claims.Subject, nil
}

var (
	errExpiredToken = errors.New("token has expired")
	errInvalidToken = errors.New("invalid token")
)

func cacheKey(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return "session:" + hex.EncodeToString(sum[:])
}

type redisCache struct {
	client *platformredis.Client
}

func (r redisCache) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

func (r redisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}
