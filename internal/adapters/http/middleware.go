package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/dkeye/callbridge/internal/metrics"
)

const userKey = "user_id"

// BearerAuth verifies the Authorization header with the same verifier the
// real-time channel uses.
func BearerAuth(v core.IdentityVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		uid, err := v.Verify(c.Request.Context(), token)
		if err != nil {
			metrics.AuthFailures.Inc()
			log.Warn().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("bearer rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		c.Set(userKey, uid)
		c.Next()
	}
}

func currentUser(c *gin.Context) domain.UserID {
	uid, _ := c.Get(userKey)
	u, _ := uid.(domain.UserID)
	return u
}
