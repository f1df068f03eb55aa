package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"profiler/pkg/api/middleware"
	"profiler/pkg/errs"
	"profiler/pkg/logger"
	"profiler/pkg/models"
	"profiler/pkg/storage"
)

// RunResponse is returned by POST /api/v1/runs.
type RunResponse struct {
	Profile      *models.Profile `json:"profile"`
	Error        gin.H           `json:"error,omitempty"`
	ExportErrors []gin.H         `json:"export_errors,omitempty"`
}

// runProfile handles POST /api/v1/runs. The request is held open until the
// command finishes.
func (s *Server) runProfile(c *gin.Context) {
	var req models.ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := s.validator.ValidateRequest(req); err != nil {
		abortWithError(c, err)
		return
	}

	if p, ok := middleware.PrincipalFromContext(c); ok {
		if req.Labels == nil {
			req.Labels = make(map[string]string)
		}
		for k, v := range p.Labels() {
			req.Labels[k] = v
		}
	}

	profile, err := s.executor.Execute(c.Request.Context(), req)
	if profile == nil {
		if err == nil {
			err = errs.NewProfilingError("run produced no profile", "api")
		}
		abortWithError(c, err)
		return
	}

	status := statusFor(err)
	resp := RunResponse{Profile: profile, ExportErrors: exportFailures(err)}
	if err != nil && status != http.StatusOK {
		_ = c.Error(err)
		resp.Error = errorBody(err)
	}
	if len(resp.ExportErrors) > 0 {
		s.logger.Warn("Run exported partially",
			zap.String("profile_id", profile.ID.String()),
			logger.Err(err),
		)
	}
	c.JSON(status, resp)
}

// listProfiles handles GET /api/v1/profiles?name=&status=&limit=&offset=
func (s *Server) listProfiles(c *gin.Context) {
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}

	filter := storage.ProfileFilter{
		Name:   c.Query("name"),
		Status: models.ProfileStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	}
	profiles, err := s.store.ListProfiles(c.Request.Context(), filter)
	if err != nil {
		s.internalError(c, "failed to list profiles", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"profiles": profiles,
		"count":    len(profiles),
		"limit":    limit,
		"offset":   offset,
	})
}

// listFailures handles GET /api/v1/failures?since=1h&limit=
func (s *Server) listFailures(c *gin.Context) {
	window := 24 * time.Hour
	if raw := c.Query("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a positive duration"})
			return
		}
		window = d
	}
	limit, _, ok := pagination(c)
	if !ok {
		return
	}

	profiles, err := s.store.ListFailures(c.Request.Context(), time.Now().Add(-window), limit)
	if err != nil {
		s.internalError(c, "failed to list failures", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"profiles": profiles,
		"count":    len(profiles),
		"since":    window.String(),
	})
}

// getProfile handles GET /api/v1/profiles/:id
func (s *Server) getProfile(c *gin.Context) {
	profile, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, profile)
}

// getProfileOutput handles GET /api/v1/profiles/:id/output
func (s *Server) getProfileOutput(c *gin.Context) {
	profile, ok := s.lookup(c)
	if !ok {
		return
	}
	if s.outputs == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "output storage is not configured"})
		return
	}
	if profile.OutputURI == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile has no stored output"})
		return
	}

	data, err := s.outputs.Retrieve(c.Request.Context(), profile.OutputURI)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "output not found"})
		return
	}
	if err != nil {
		s.internalError(c, "failed to retrieve output", err)
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}

func (s *Server) lookup(c *gin.Context) (*models.Profile, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile ID"})
		return nil, false
	}

	profile, err := s.store.GetProfile(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return nil, false
	}
	if err != nil {
		s.internalError(c, "failed to get profile", err)
		return nil, false
	}
	return profile, true
}

// pagination reads limit and offset, writing a 400 on bad input.
func pagination(c *gin.Context) (limit, offset int, ok bool) {
	limit = storage.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return 0, 0, false
		}
		limit = n
	}
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	_ = c.Error(err)
	s.logger.Error(msg, logger.Err(err), zap.String("path", c.Request.URL.Path))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
