package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// getLeader handles GET /api/v1/cluster/leader
func (s *Server) getLeader(c *gin.Context) {
	if s.election == nil {
		c.JSON(http.StatusOK, gin.H{
			"mode":      "standalone",
			"leader":    s.nodeID,
			"is_leader": true,
		})
		return
	}

	leader, err := s.election.Leader(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no leader elected: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"mode":      "elected",
		"leader":    leader,
		"is_leader": leader == s.nodeID,
	})
}
