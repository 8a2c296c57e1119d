package identity

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyHeader carries operator keys for the admin API.
const APIKeyHeader = "X-API-Key"

// APIKey binds a bcrypt hash to the identity it authenticates.
type APIKey struct {
	Name     string
	Hash     string
	Identity Identity
}

// APIKeyProvider authenticates requests against bcrypt-hashed keys.
type APIKeyProvider struct {
	keys []APIKey
}

// NewAPIKeyProvider returns a provider for keys.
func NewAPIKeyProvider(keys ...APIKey) *APIKeyProvider {
	return &APIKeyProvider{keys: keys}
}

// HashAPIKey hashes a plaintext key for configuration.
func HashAPIKey(plain string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(h), nil
}

// Resolve implements Provider.
func (p *APIKeyProvider) Resolve(_ context.Context, r *http.Request) (*Identity, error) {
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		return nil, ErrNoCredentials
	}
	for _, k := range p.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(key)) == nil {
			id := k.Identity
			if id.UserID == "" {
				id.UserID = "apikey:" + k.Name
			}
			return &id, nil
		}
	}
	return nil, ErrInvalidCredentials
}
