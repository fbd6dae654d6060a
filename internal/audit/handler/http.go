// Package handler exposes audit entry reads over HTTP. Routes are mounted
// behind the gate; callers only see their own trail.
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	auditrepo "telecare-platform/authority/internal/audit/repository"
	"telecare-platform/authority/internal/gate"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Server serves audit reads for the verified caller.
type Server struct {
	repo auditrepo.Repository
}

// NewServer returns an audit HTTP server.
func NewServer(repo auditrepo.Repository) *Server {
	return &Server{repo: repo}
}

// Register mounts the audit routes on the given gated router group.
func (s *Server) Register(r gin.IRoutes) {
	r.GET("/audit", s.List)
	r.GET("/audit/:id", s.Get)
}

// List returns the caller's audit entries, newest first. limit and offset
// come from query parameters.
func (s *Server) List(c *gin.Context) {
	actor := gate.Subject(c.Request.Context())
	if actor == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	limit := queryInt(c, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	entries, err := s.repo.ListByActor(c.Request.Context(), actor, int32(limit), int32(offset))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dependency_unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// Get returns one audit entry by id. Entries belonging to another actor
// read as absent.
func (s *Server) Get(c *gin.Context) {
	actor := gate.Subject(c.Request.Context())
	if actor == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	entry, err := s.repo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dependency_unavailable"})
		return
	}
	if entry == nil || entry.Actor != actor {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
