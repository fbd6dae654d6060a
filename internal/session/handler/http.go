// Package handler exposes the session lifecycle over HTTP.
package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"telecare-platform/authority/internal/gate"
	"telecare-platform/authority/internal/security"
	"telecare-platform/authority/internal/session"
	"telecare-platform/authority/internal/telemetry/otel"
)

// Server handles refresh and revoke requests against the session manager.
type Server struct {
	manager *session.Manager
	metrics *otel.AuthMetrics
}

// NewServer returns a session HTTP server. metrics may be nil.
func NewServer(manager *session.Manager, metrics *otel.AuthMetrics) *Server {
	return &Server{manager: manager, metrics: metrics}
}

// Register mounts the session routes on the given router group.
func (s *Server) Register(r gin.IRoutes) {
	r.POST("/auth/refresh", s.Refresh)
	r.POST("/auth/revoke", s.Revoke)
	r.POST("/auth/revoke-all", s.RevokeAll)
}

// RegisterGated mounts the routes that require a verified caller.
func (s *Server) RegisterGated(r gin.IRoutes) {
	r.GET("/sessions/:id/revocation", s.RevocationStatus)
}

type refreshRequest struct {
	Extended bool `json:"extended"`
}

type refreshResponse struct {
	Credential string    `json:"credential"`
	SessionID  string    `json:"session_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Refresh exchanges the presented credential for a new one on a rotated
// session. The old credential is superseded and stops verifying.
func (s *Server) Refresh(c *gin.Context) {
	credential := bearerCredential(c)
	deviceID := c.GetHeader(gate.HTTPDeviceIDHeader)

	var req refreshRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}

	credentialOut, payload, err := s.manager.Refresh(c.Request.Context(), credential, deviceID, req.Extended)
	if err != nil {
		s.metrics.RecordRefresh(c.Request.Context(), outcomeOf(err))
		writeError(c, err)
		return
	}
	s.metrics.RecordRefresh(c.Request.Context(), "success")

	c.JSON(http.StatusOK, refreshResponse{
		Credential: credentialOut,
		SessionID:  payload.SessionID,
		ExpiresAt:  payload.ExpiresAt,
	})
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

// Revoke terminates the presented credential's session. Revoking an already
// revoked session succeeds.
func (s *Server) Revoke(c *gin.Context) {
	credential := bearerCredential(c)
	deviceID := c.GetHeader(gate.HTTPDeviceIDHeader)

	var req revokeRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}

	if err := s.manager.Revoke(c.Request.Context(), credential, deviceID, req.Reason); err != nil {
		s.metrics.RecordRevocation(c.Request.Context(), outcomeOf(err))
		writeError(c, err)
		return
	}
	s.metrics.RecordRevocation(c.Request.Context(), "success")

	c.Status(http.StatusNoContent)
}

// RevokeAll terminates every live session the verified caller holds
// (forced sign-out).
func (s *Server) RevokeAll(c *gin.Context) {
	credential := bearerCredential(c)
	deviceID := c.GetHeader(gate.HTTPDeviceIDHeader)

	var req revokeRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}

	revoked, err := s.manager.RevokeAll(c.Request.Context(), credential, deviceID, req.Reason)
	if err != nil {
		s.metrics.RecordRevocation(c.Request.Context(), outcomeOf(err))
		writeError(c, err)
		return
	}
	s.metrics.RecordRevocation(c.Request.Context(), "success")

	c.JSON(http.StatusOK, gin.H{"revoked": revoked})
}

// RevocationStatus returns the stored revocation record for one of the
// caller's sessions. Records belonging to another subject read as absent.
func (s *Server) RevocationStatus(c *gin.Context) {
	rec, err := s.manager.RevocationRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if rec == nil || rec.Subject != gate.Subject(c.Request.Context()) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func bearerCredential(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, session.ErrRefreshLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, security.ErrRevoked):
		return "revoked"
	case errors.Is(err, security.ErrTokenExpired):
		return "expired"
	case errors.Is(err, security.ErrDependencyUnavailable):
		return "unavailable"
	case errors.Is(err, security.ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrRefreshLimitExceeded):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "refresh_limit_exceeded"})
	case errors.Is(err, security.ErrTokenExpired):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token_expired"})
	case errors.Is(err, security.ErrUnauthorized):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, security.ErrDependencyUnavailable):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "dependency_unavailable"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}
