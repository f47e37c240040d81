package middleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const bearerPrefix = "Bearer "

// AdminAuth guards admin routes with a shared secret sent as a bearer token.
// The token is compared byte-for-byte: no trimming, no case folding. An
// empty secret rejects every request.
func AdminAuth(secret string, limiter *AuthLimiter, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	want := []byte(secret)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		if limiter != nil {
			if ok, wait := limiter.Check(ip); !ok {
				c.Header("Retry-After", fmt.Sprintf("%d", int(wait.Seconds())+1))
				unauthorized(c, "too many failed attempts")
				return
			}
		}

		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, bearerPrefix)
		if len(want) == 0 || !found || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			if limiter != nil {
				limiter.RecordFailure(ip)
			}
			logger.Warn("admin auth rejected",
				zap.String("ip", ip),
				zap.String("path", c.Request.URL.Path),
				zap.Bool("header_present", header != ""),
			)
			unauthorized(c, "invalid or missing admin credential")
			return
		}

		if limiter != nil {
			limiter.Reset(ip)
		}
		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    http.StatusUnauthorized,
		"message": message,
	})
}
