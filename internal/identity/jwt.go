package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims issued to dashboard sessions.
type Claims struct {
	Role           string `json:"role"`
	OrganizationID string `json:"org_id,omitempty"`
	StoreID        string `json:"store_id,omitempty"`
	Status         string `json:"status,omitempty"`
	jwt.RegisteredClaims
}

// JWTProvider resolves HS256 bearer tokens from the Authorization header or
// the session cookie.
type JWTProvider struct {
	secret     []byte
	issuer     string
	cookieName string
	now        func() time.Time
}

// NewJWTProvider creates a provider; cookieName may be empty.
func NewJWTProvider(secret, issuer, cookieName string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret), issuer: issuer, cookieName: cookieName, now: time.Now}
}

// Issue signs a token for id valid for ttl.
func (p *JWTProvider) Issue(id Identity, ttl time.Duration) (string, error) {
	now := p.now()
	claims := Claims{
		Role:           id.Role,
		OrganizationID: id.OrganizationID,
		StoreID:        id.StoreID,
		Status:         id.AccountStatus,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

// Resolve implements Provider.
func (p *JWTProvider) Resolve(_ context.Context, r *http.Request) (*Identity, error) {
	raw := p.token(r)
	if raw == "" {
		return nil, ErrNoCredentials
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.now),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidCredentials)
	}

	return &Identity{
		UserID:         claims.Subject,
		Role:           strings.ToLower(claims.Role),
		OrganizationID: claims.OrganizationID,
		StoreID:        claims.StoreID,
		AccountStatus:  claims.Status,
	}, nil
}

func (p *JWTProvider) token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(strings.ToLower(h), "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}
	if p.cookieName != "" {
		if c, err := r.Cookie(p.cookieName); err == nil {
			return c.Value
		}
	}
	return ""
}
