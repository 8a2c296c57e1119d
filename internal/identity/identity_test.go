package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestIdentity_HasRole(t *testing.T) {
	manager := &Identity{UserID: "u1", Role: RoleManager}

	assert.True(t, manager.HasRole(RoleStaff))
	assert.True(t, manager.HasRole(RoleManager))
	assert.False(t, manager.HasRole(RoleAdmin))
	assert.True(t, manager.HasRole(""))
	assert.False(t, manager.HasRole("wizard"))

	var nilID *Identity
	assert.False(t, nilID.HasRole(RoleViewer))
	assert.False(t, nilID.Active())
}

func TestIdentity_Active(t *testing.T) {
	assert.True(t, (&Identity{}).Active())
	assert.True(t, (&Identity{AccountStatus: "Active"}).Active())
	assert.False(t, (&Identity{AccountStatus: StatusSuspended}).Active())
}

func TestJWTProvider_RoundTrip(t *testing.T) {
	p := NewJWTProvider("secret", "sentinel", "session")
	token, err := p.Issue(Identity{UserID: "u1", Role: "Admin", OrganizationID: "org1", AccountStatus: StatusActive}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	id, err := p.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, RoleAdmin, id.Role)
	assert.Equal(t, "org1", id.OrganizationID)

	cookieReq := httptest.NewRequest(http.MethodGet, "/", nil)
	cookieReq.AddCookie(&http.Cookie{Name: "session", Value: token})
	id, err = p.Resolve(context.Background(), cookieReq)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
}

func TestJWTProvider_Rejects(t *testing.T) {
	p := NewJWTProvider("secret", "sentinel", "")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := p.Resolve(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoCredentials)

	other := NewJWTProvider("other", "sentinel", "")
	token, err := other.Issue(Identity{UserID: "u1", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	_, err = p.Resolve(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	expired, err := p.Issue(Identity{UserID: "u1"}, -time.Minute)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+expired)
	_, err = p.Resolve(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAPIKeyProvider(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("k3y"), bcrypt.MinCost)
	require.NoError(t, err)
	p := NewAPIKeyProvider(APIKey{Name: "ops", Hash: string(hash), Identity: Identity{Role: RoleAdmin}})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err = p.Resolve(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoCredentials)

	req.Header.Set(APIKeyHeader, "wrong")
	_, err = p.Resolve(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	req.Header.Set(APIKeyHeader, "k3y")
	id, err := p.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "apikey:ops", id.UserID)
	assert.Equal(t, RoleAdmin, id.Role)
}

func TestChain_FallsThroughOnMissingCredentials(t *testing.T) {
	none := ProviderFunc(func(context.Context, *http.Request) (*Identity, error) { return nil, ErrNoCredentials })
	found := ProviderFunc(func(context.Context, *http.Request) (*Identity, error) { return &Identity{UserID: "u2"}, nil })

	id, err := Chain{none, nil, found}.Resolve(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, "u2", id.UserID)

	_, err = Chain{none}.Resolve(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrNoCredentials)

	ctx := WithIdentity(context.Background(), id)
	got, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u2", got.UserID)
}
