package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"LiveHub/tools/errs"
	"LiveHub/tools/security"
)

const identityKey = "live.identity"

// Auth extracts the already-authenticated identity (user id + role) from a
// bearer token. Browsers cannot set headers on a websocket handshake, so a
// token query parameter is accepted as fallback. No authorization decisions
// happen here.
func Auth(secret []byte) gin.HandlerFunc {
	opts := security.DefaultOptions(secret)
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized)
			return
		}
		id, err := security.Verify(opts, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized.WithDetail(err.Error()))
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}

// Identity returns the authenticated caller, or nil outside Auth.
func Identity(c *gin.Context) *security.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*security.Identity)
	return id
}
