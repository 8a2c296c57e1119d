package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/sentinel/backend/internal/identity"
)

// IdentityKey matches the key the request gate stores the caller under.
const IdentityKey = "identity"

// CurrentIdentity returns the caller resolved earlier in the chain.
func CurrentIdentity(c *gin.Context) (*identity.Identity, bool) {
	if v, ok := c.Get(IdentityKey); ok {
		if id, ok := v.(*identity.Identity); ok && id != nil {
			return id, true
		}
	}
	return identity.FromContext(c.Request.Context())
}

// AuthMiddleware resolves the caller with provider when nothing upstream did.
// Requests without credentials pass through anonymously; invalid credentials
// are rejected.
func AuthMiddleware(provider identity.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentIdentity(c); ok || provider == nil {
			c.Next()
			return
		}
		id, err := provider.Resolve(c.Request.Context(), c.Request)
		switch {
		case errors.Is(err, identity.ErrNoCredentials):
			c.Next()
			return
		case err != nil:
			GetRequestLogger(c).WithError(err).Debug("credentials rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		c.Set(IdentityKey, id)
		c.Request = c.Request.WithContext(identity.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// RequireRole rejects callers below min. An empty min only requires an
// authenticated, active account.
func RequireRole(min string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := CurrentIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if !id.Active() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Account is not active"})
			return
		}
		if !id.HasRole(min) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		c.Next()
	}
}
