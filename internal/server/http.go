// Package server assembles the HTTP router from the wired handlers.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	audithandler "telecare-platform/authority/internal/audit/handler"
	"telecare-platform/authority/internal/gate"
	healthhandler "telecare-platform/authority/internal/health/handler"
	sessionhandler "telecare-platform/authority/internal/session/handler"
	"telecare-platform/authority/internal/telemetry/otel"
)

// Deps holds the handlers and gates the router mounts.
type Deps struct {
	// Session serves the /auth lifecycle routes. Required.
	Session *sessionhandler.Server
	// Health serves /healthz and /readyz. Required.
	Health *healthhandler.Server
	// Audit serves the caller's audit trail under /v1. Optional.
	Audit *audithandler.Server
	// Gate protects the /v1 routes. Required.
	Gate *gate.Gate
	// Metrics records verification outcomes on gated routes. Optional.
	Metrics *otel.AuthMetrics
}

// NewRouter builds the gin engine.
//
// Route → handler mapping:
//   - /healthz, /readyz                  → internal/health/handler
//   - /auth/refresh, /auth/revoke,
//     /auth/revoke-all                   → internal/session/handler
//   - /v1/* (gated)                      → internal/gate middleware
//   - /v1/audit, /v1/audit/:id           → internal/audit/handler
//   - /v1/sessions/:id/revocation       → internal/session/handler
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	deps.Health.Register(r)
	deps.Session.Register(r)

	v1 := r.Group("/v1")
	v1.Use(verificationMetrics(deps.Metrics), gate.Middleware(deps.Gate))
	v1.GET("/me", whoami)
	deps.Session.RegisterGated(v1)
	if deps.Audit != nil {
		deps.Audit.Register(v1)
	}

	return r
}

// whoami echoes the verified caller, as a smoke route for gated access.
func whoami(c *gin.Context) {
	rc, ok := gate.FromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subject":    rc.Payload.Subject,
		"session_id": rc.Payload.SessionID,
		"roles":      rc.Payload.Roles,
	})
}

// verificationMetrics counts the gate's verdict per request by mapping the
// response status after the chain runs.
func verificationMetrics(m *otel.AuthMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if m == nil {
			return
		}
		outcome := "success"
		switch c.Writer.Status() {
		case http.StatusUnauthorized:
			outcome = "unauthorized"
		case http.StatusForbidden:
			outcome = "forbidden"
		case http.StatusServiceUnavailable:
			outcome = "unavailable"
		}
		m.RecordVerification(c.Request.Context(), outcome)
	}
}
