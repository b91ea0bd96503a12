package auth

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockKeys struct {
	byHash map[string]*APIKey
	err    error
}

func (m *mockKeys) FindByHash(_ context.Context, hash string) (*APIKey, error) {
	if m.err != nil {
		return nil, m.err
	}
	k, ok := m.byHash[hash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return k, nil
}

func TestAuthenticator(t *testing.T) {
	pepper := []byte("pepper")
	hash := NewHasher(pepper).Hash("secret")
	keys := &mockKeys{byHash: map[string]*APIKey{
		hash: {ID: "k1", KeyHash: hash, Name: "bot", Scopes: []string{ScopeCheckout}},
	}}
	a := NewAuthenticator(keys, pepper)
	ctx := context.Background()

	tests := []struct {
		name    string
		key     string
		scope   string
		wantErr error
	}{
		{name: "valid", key: "secret", scope: ScopeCheckout},
		{name: "empty", key: "", scope: ScopeCheckout, wantErr: ErrUnauthorized},
		{name: "unknown", key: "other", scope: ScopeCheckout, wantErr: ErrUnauthorized},
		{name: "missing scope", key: "secret", scope: ScopePayments, wantErr: ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := a.Authenticate(ctx, tt.key, tt.scope)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "k1", k.ID)
		})
	}
}

func TestAuthenticator_PepperMatters(t *testing.T) {
	hash := NewHasher([]byte("a")).Hash("secret")
	keys := &mockKeys{byHash: map[string]*APIKey{hash: {KeyHash: hash, Scopes: []string{ScopeCheckout}}}}

	_, err := NewAuthenticator(keys, []byte("b")).Authenticate(context.Background(), "secret", ScopeCheckout)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticator_RepositoryError(t *testing.T) {
	a := NewAuthenticator(&mockKeys{err: errors.New("db down")}, nil)

	_, err := a.Authenticate(context.Background(), "secret", ScopeCheckout)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}
