package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"studyrag/internal/app"
	"studyrag/internal/transport/http/response"
)

const ContextIdentityKey = "identity"

// Auth resolves the bearer token to an identity before any handler runs.
// Token failures abort the request here; no pipeline executes partially.
func Auth(guard *app.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "missing authorization header")
			c.Abort()
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid authorization scheme")
			c.Abort()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		identity, err := guard.Resolve(c.Request.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, app.ErrTokenExpired):
				response.Error(c, http.StatusUnauthorized, response.CodeTokenExpired, "token expired, please re-authenticate")
			case errors.Is(err, app.ErrForbidden):
				response.Error(c, http.StatusForbidden, response.CodeForbidden, "account is deactivated")
			case errors.Is(err, app.ErrInvalidToken):
				response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token")
			default:
				// Identity store failure; not an auth verdict.
				response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "authentication check failed")
			}
			c.Abort()
			return
		}

		c.Set(ContextIdentityKey, identity)
		c.Next()
	}
}

// IdentityFromContext returns the identity the Auth middleware resolved.
func IdentityFromContext(c *gin.Context) (*app.Identity, bool) {
	value, exists := c.Get(ContextIdentityKey)
	if !exists {
		return nil, false
	}
	identity, ok := value.(*app.Identity)
	return identity, ok
}
