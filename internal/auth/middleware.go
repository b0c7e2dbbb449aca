package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/serroba/online-diagrams/internal/apperr"
)

const identityKey = "auth.identity"

// Middleware authenticates every request. Browsers cannot set headers on a
// WebSocket upgrade, so a ?token= query parameter is accepted as well.
func Middleware(resolver Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c.GetHeader("Authorization"))
		if token == "" {
			token = strings.TrimSpace(c.Query("token"))
		}

		if token == "" {
			abort(c, ErrMissingToken)

			return
		}

		identity, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			abort(c, err)

			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// FromContext returns the identity stored by Middleware.
func FromContext(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}

	identity, ok := v.(Identity)

	return identity, ok
}

func abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{
		"error":   apperr.Code(err),
		"message": apperr.Message(err),
	})
}

func extractBearer(header string) string {
	const prefix = "Bearer "

	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}

	return ""
}
