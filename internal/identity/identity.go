package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrNoCredentials means the request carried nothing this provider understands.
var ErrNoCredentials = errors.New("no credentials presented")

// ErrInvalidCredentials means credentials were presented but rejected.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Roles ordered by privilege.
const (
	RoleViewer  = "viewer"
	RoleStaff   = "staff"
	RoleManager = "manager"
	RoleAdmin   = "admin"
	RoleOwner   = "owner"
)

var roleRank = map[string]int{
	RoleViewer:  1,
	RoleStaff:   2,
	RoleManager: 3,
	RoleAdmin:   4,
	RoleOwner:   5,
}

// Account statuses; anything other than active is refused by protected routes.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusDisabled  = "disabled"
)

// Identity is the authenticated caller resolved by a Provider.
type Identity struct {
	UserID         string `json:"user_id"`
	Role           string `json:"role"`
	OrganizationID string `json:"organization_id,omitempty"`
	StoreID        string `json:"store_id,omitempty"`
	AccountStatus  string `json:"account_status"`
}

// Active reports whether the account may use protected routes. An empty
// status is treated as active.
func (i *Identity) Active() bool {
	if i == nil {
		return false
	}
	return i.AccountStatus == "" || strings.EqualFold(i.AccountStatus, StatusActive)
}

// HasRole reports whether the identity's role ranks at least min.
func (i *Identity) HasRole(min string) bool {
	if i == nil {
		return false
	}
	if min == "" {
		return true
	}
	return RoleRank(i.Role) >= RoleRank(min) && RoleRank(min) > 0
}

// RoleRank returns the privilege rank of role; unknown roles rank 0.
func RoleRank(role string) int {
	return roleRank[strings.ToLower(role)]
}

// ValidRole reports whether role is known.
func ValidRole(role string) bool {
	return RoleRank(role) > 0
}

// Provider resolves the caller of an HTTP request.
type Provider interface {
	Resolve(ctx context.Context, r *http.Request) (*Identity, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, r *http.Request) (*Identity, error)

// Resolve calls f.
func (f ProviderFunc) Resolve(ctx context.Context, r *http.Request) (*Identity, error) {
	return f(ctx, r)
}

// Chain tries providers in order. The first provider that recognizes
// credentials decides; ErrNoCredentials moves on to the next one.
type Chain []Provider

// Resolve implements Provider.
func (c Chain) Resolve(ctx context.Context, r *http.Request) (*Identity, error) {
	for _, p := range c {
		if p == nil {
			continue
		}
		id, err := p.Resolve(ctx, r)
		if errors.Is(err, ErrNoCredentials) {
			continue
		}
		return id, err
	}
	return nil, ErrNoCredentials
}

type ctxKey struct{}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*Identity)
	return id, ok && id != nil
}
