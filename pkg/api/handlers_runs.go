package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"testbot/pkg/api/middleware"
	"testbot/pkg/scheduler"
	"testbot/pkg/storage"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// TargetResponse is the API view of a target. Notifier URLs are omitted
// because they usually embed credentials.
type TargetResponse struct {
	Project      string   `json:"project"`
	Environment  string   `json:"env_name"`
	Repository   string   `json:"repo_url"`
	Branches     []string `json:"branches"`
	NotifierType string   `json:"notifier_type"`
}

// listRuns handles GET /api/v1/runs
func (s *Server) listRuns(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history is not configured"})
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	runs, err := s.history.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

// getRun handles GET /api/v1/runs/:id
func (s *Server) getRun(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history is not configured"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run ID"})
		return
	}

	run, err := s.history.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		s.logger.Error("Failed to get run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get run"})
		return
	}

	c.JSON(http.StatusOK, run)
}

// triggerPass handles POST /api/v1/runs/trigger
func (s *Server) triggerPass(c *gin.Context) {
	if s.trigger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "manual triggers are disabled"})
		return
	}

	// The scheduler detaches the pass from the request.
	if err := s.trigger.TriggerAsync(c.Request.Context(), scheduler.TriggerManual); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrPassRunning):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		case errors.Is(err, scheduler.ErrNotActive):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	user := "anonymous"
	if claims, ok := middleware.GetUserFromContext(c); ok {
		user = claims.Username
	}
	s.logger.Info("Manual pass triggered", zap.String("user", user))

	c.JSON(http.StatusAccepted, gin.H{
		"message": "pass started",
		"trigger": scheduler.TriggerManual,
	})
}

// getSchedule handles GET /api/v1/schedule
func (s *Server) getSchedule(c *gin.Context) {
	if s.trigger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler is not running"})
		return
	}
	c.JSON(http.StatusOK, s.trigger.Status())
}

// listTargets handles GET /api/v1/targets
func (s *Server) listTargets(c *gin.Context) {
	out := make([]TargetResponse, 0, len(s.targets))
	for _, t := range s.targets {
		resp := TargetResponse{
			Project:      t.ProjectName,
			Environment:  t.EnvironmentName,
			Repository:   t.RepositoryURL,
			Branches:     t.Branches,
			NotifierType: "none",
		}
		if t.Notifier != nil && t.Notifier.Type != "" {
			resp.NotifierType = t.Notifier.Type
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, gin.H{"targets": out, "count": len(out)})
}
