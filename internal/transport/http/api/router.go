package apihttp

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"canarydesk/internal/canary"
	"canarydesk/internal/logger"

	"github.com/gin-gonic/gin"
)

func (s *Server) register(group *gin.RouterGroup) {
	group.GET("/canary/status", s.handleStatus)
	group.GET("/canary/reports", s.handleReports)
	group.POST("/canary/start", s.handleStart)
	group.POST("/canary/stop", s.handleStop)
	group.GET("/runner/state", s.handleRunnerState)
	group.GET("/execution/quality", s.handleQuality)
	group.GET("/venue/stats", s.handleVenues)
}

type startRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg.Canary.Status())
}

func (s *Server) handleStart(c *gin.Context) {
	var req startRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if strings.TrimSpace(req.Mode) == "" {
		req.Mode = "canary"
	}
	err := s.cfg.Canary.Start(s.sessionCtx(), req.Mode)
	switch {
	case err == nil:
	case errors.Is(err, canary.ErrInvalidMode):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, canary.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	default:
		logger.Errorf("HTTP: canary start failed mode=%s err=%v", req.Mode, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.cfg.Canary.Status())
}

func (s *Server) handleStop(c *gin.Context) {
	s.cfg.Canary.Stop()
	c.JSON(http.StatusOK, s.cfg.Canary.Status())
}

// handleReports serves in-memory reports, or persisted ones with
// ?persisted=true. kind and limit filter both.
func (s *Server) handleReports(c *gin.Context) {
	kind := strings.TrimSpace(c.Query("kind"))
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	if persisted, _ := strconv.ParseBool(c.Query("persisted")); persisted {
		if s.cfg.History == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "report store not configured"})
			return
		}
		reps, err := s.cfg.History.RecentReports(c.Request.Context(), kind, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"reports": nonNil(reps)})
		return
	}

	all := s.cfg.Canary.Reports()
	out := make([]canary.Report, 0, len(all))
	// newest first, matching the persisted listing
	for i := len(all) - 1; i >= 0; i-- {
		if kind != "" && string(all[i].Kind) != kind {
			continue
		}
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{"reports": out})
}

func (s *Server) handleRunnerState(c *gin.Context) {
	if s.cfg.Runner == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "runner not active"})
		return
	}
	st, ok := s.cfg.Runner()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "runner not active"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleQuality(c *gin.Context) {
	if s.cfg.Quality == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution engine not configured"})
		return
	}
	c.JSON(http.StatusOK, s.cfg.Quality.QualityReport())
}

func (s *Server) handleVenues(c *gin.Context) {
	if s.cfg.Venues == nil {
		c.JSON(http.StatusOK, gin.H{"venues": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"venues": s.cfg.Venues.Stats()})
}

func nonNil(reps []canary.Report) []canary.Report {
	if reps == nil {
		return []canary.Report{}
	}
	return reps
}
