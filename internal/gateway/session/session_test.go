package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, key string, claims Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}

func TestValidator_ValidateToken_Valid(t *testing.T) {
	v := New("test-signing-key", nil, time.Minute)
	token := signToken(t, "test-signing-key", Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	subject, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)
}

func TestValidator_ValidateToken_Expired(t *testing.T) {
	v := New("test-signing-key", nil, time.Minute)
	token := signToken(t, "test-signing-key", Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	_, err := v.ValidateToken(context.Background(), token)
	require.Error(t, err)
}

func TestValidator_ValidateToken_WrongSigningKey(t *testing.T) {
	v := New("test-signing-key", nil, time.Minute)
	token := signToken(t, "some-other-key", Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	_, err := v.ValidateToken(context.Background(), token)
	require.Error(t, err)
}

type fakeCache struct {
	values map[string]string
	gets   int
}

func (f *fakeCache) Get(_ context.Context, key string) (string, error) {
	f.gets++
	v, ok := f.values[key]
	if !ok {
		return "", errInvalidToken
	}
	return v, nil
}

func (f *fakeCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	if f.values == nil {
		f.values = map[string]string{}
	}
	f.values[key] = value
	return nil
}

func TestValidator_ValidateToken_CachesSubject(t *testing.T) {
	v := New("test-signing-key", nil, time.Minute)
	fc := &fakeCache{}
	v.cache = fc

	token := signToken(t, "test-signing-key", Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	subject, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)

	// Corrupt the signing key; a cache hit must still resolve without
	// re-verifying the JWT signature.
	v.signingKey = []byte("corrupted")
	subject, err = v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)
	assert.Equal(t, 2, fc.gets)
}
