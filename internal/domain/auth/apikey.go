// Package auth authenticates API clients by HMAC-hashed API keys.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

var (
	// ErrKeyNotFound is returned by Repository when no active key matches.
	ErrKeyNotFound = errors.New("api key not found")
	// ErrUnauthorized is returned by Authenticator for unknown or malformed
	// keys.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the key lacks the required scope.
	ErrForbidden = errors.New("forbidden")
)

// Scopes granted to API keys.
const (
	ScopeCheckout = "checkout"
	ScopePayments = "payments"
)

// APIKey is a stored API key. Only the hash of the secret is persisted.
type APIKey struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// Allows reports whether the key carries scope.
func (k *APIKey) Allows(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of active API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKey, error)
}

// Hasher computes HMAC-SHA256 of API keys with a server side pepper.
type Hasher struct {
	pepper []byte
}

// NewHasher returns a Hasher using pepper.
func NewHasher(pepper []byte) Hasher {
	return Hasher{pepper: pepper}
}

func (h Hasher) sum(key string) []byte {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(key))
	return mac.Sum(nil)
}

// Hash returns the hex encoded hash stored for key.
func (h Hasher) Hash(key string) string {
	return hex.EncodeToString(h.sum(key))
}

// Authenticator resolves raw API keys to stored keys.
type Authenticator struct {
	keys   Repository
	hasher Hasher
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, hasher: NewHasher(pepper)}
}

// Authenticate looks the key up by hash and checks that it carries scope.
func (a *Authenticator) Authenticate(ctx context.Context, key, scope string) (*APIKey, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	hash := a.hasher.sum(key)

	info, err := a.keys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(err, "find api key")
	}

	// The row is matched by hash, compare again in constant time in case the
	// repository returned a different row.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, ErrUnauthorized
	}
	if !info.Allows(scope) {
		return nil, ErrForbidden
	}
	return info, nil
}
