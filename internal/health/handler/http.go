// Package handler exposes readiness and liveness over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger reports database reachability (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker reports policy engine readiness (e.g. the OPA evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

const checkTimeout = 2 * time.Second

// Server answers health checks for Kubernetes and load balancers. Nil
// dependencies are skipped.
type Server struct {
	db     Pinger
	policy PolicyChecker
}

// NewServer returns a health HTTP server.
func NewServer(db Pinger, policy PolicyChecker) *Server {
	return &Server{db: db, policy: policy}
}

// Register mounts the health routes on the given router group.
func (s *Server) Register(r gin.IRoutes) {
	r.GET("/healthz", s.Liveness)
	r.GET("/readyz", s.Readiness)
}

// Liveness always reports ok while the process is serving.
func (s *Server) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness pings each wired dependency and reports per-check status.
func (s *Server) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	checks := gin.H{}
	healthy := true

	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}
	if s.policy != nil {
		if err := s.policy.HealthCheck(ctx); err != nil {
			checks["policy"] = err.Error()
			healthy = false
		} else {
			checks["policy"] = "ok"
		}
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "checks": checks})
}
