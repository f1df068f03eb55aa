package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"profiler/pkg/coordination"
)

// listNodes handles GET /api/v1/cluster/nodes
func (s *Server) listNodes(c *gin.Context) {
	if s.coordinator == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no coordinator configured"})
		return
	}

	nodes, err := s.coordinator.GetActiveNodes(c.Request.Context())
	if err != nil {
		s.internalError(c, "failed to get nodes", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"nodes": nodes,
		"count": len(nodes),
	})
}

// getLeader handles GET /api/v1/cluster/leader
func (s *Server) getLeader(c *gin.Context) {
	if s.election == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no scheduler election configured"})
		return
	}

	leader, err := s.election.Leader(c.Request.Context())
	if errors.Is(err, coordination.ErrNoLeader) {
		c.JSON(http.StatusOK, gin.H{"leader": nil})
		return
	}
	if err != nil {
		s.internalError(c, "failed to get leader", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leader": leader})
}

// listSchedules handles GET /api/v1/schedules
func (s *Server) listSchedules(c *gin.Context) {
	if s.schedules == nil {
		c.JSON(http.StatusOK, gin.H{"schedules": []any{}, "count": 0})
		return
	}
	entries := s.schedules.Entries()
	c.JSON(http.StatusOK, gin.H{
		"schedules": entries,
		"count":     len(entries),
	})
}
