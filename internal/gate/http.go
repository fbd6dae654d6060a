package gate

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"telecare-platform/authority/internal/security"
	"telecare-platform/authority/internal/session"
)

// HTTPDeviceIDHeader is the request header carrying the asserted device id.
const HTTPDeviceIDHeader = "X-Device-ID"

// Middleware returns a gin handler that runs the gate for every request.
// On success the enriched request context is attached to the request's
// context; on failure the request is aborted with the mapped status.
func Middleware(g *Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, err := g.Authorize(c.Request.Context(), Request{
			Credential: bearerFromHeader(c.GetHeader("Authorization")),
			DeviceID:   c.GetHeader(HTTPDeviceIDHeader),
			IPAddress:  c.ClientIP(),
			UserAgent:  c.Request.UserAgent(),
		})
		if err != nil {
			code, body := httpError(err)
			c.AbortWithStatusJSON(code, body)
			return
		}
		if rc != nil {
			c.Request = c.Request.WithContext(WithRequestContext(c.Request.Context(), rc))
		}
		c.Next()
	}
}

func bearerFromHeader(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// httpError maps a gate error to an HTTP status and response body. The
// token_expired code tells clients to refresh; refresh_limit_exceeded tells
// them to authenticate from scratch.
func httpError(err error) (int, gin.H) {
	switch {
	case errors.Is(err, session.ErrRefreshLimitExceeded):
		return http.StatusUnauthorized, gin.H{"error": "refresh_limit_exceeded"}
	case errors.Is(err, security.ErrTokenExpired):
		return http.StatusUnauthorized, gin.H{"error": "token_expired"}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, gin.H{"error": "forbidden"}
	case errors.Is(err, security.ErrDependencyUnavailable):
		return http.StatusServiceUnavailable, gin.H{"error": "dependency_unavailable"}
	case errors.Is(err, security.ErrUnauthorized):
		return http.StatusUnauthorized, gin.H{"error": "unauthorized"}
	default:
		return http.StatusInternalServerError, gin.H{"error": "internal"}
	}
}
