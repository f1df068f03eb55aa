package middleware

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"profiler/pkg/errs"
	"profiler/pkg/executor/runner"
	"profiler/pkg/models"
)

// ValidatorConfig holds validation configuration
type ValidatorConfig struct {
	CommandBlacklist []string // Dangerous command patterns
	MaxNameLength    int
	MaxCommandLength int
	MaxTimeout       time.Duration // 0 means unbounded
	MaxSampleRate    float64
}

// DefaultValidatorConfig returns safe defaults
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		CommandBlacklist: []string{"rm -rf /", ":(){ :|:& };:", "mkfs", "dd if="},
		MaxNameLength:    256,
		MaxCommandLength: 4096,
		MaxTimeout:       time.Hour,
		MaxSampleRate:    1000,
	}
}

// Validator checks profiling requests arriving over HTTP before they reach
// the runner.
type Validator struct {
	config           ValidatorConfig
	dangerousPattern *regexp.Regexp
}

// NewValidator creates a new validator with the given config
func NewValidator(config ValidatorConfig) *Validator {
	v := &Validator{config: config}
	if len(config.CommandBlacklist) > 0 {
		patterns := make([]string, len(config.CommandBlacklist))
		for i, p := range config.CommandBlacklist {
			patterns[i] = regexp.QuoteMeta(p)
		}
		v.dangerousPattern = regexp.MustCompile(strings.Join(patterns, "|"))
	}
	return v
}

// ValidateCommand checks if a command is safe to execute
func (v *Validator) ValidateCommand(command string) error {
	if strings.TrimSpace(command) == "" {
		return errs.NewConfigurationError("command is required", "command")
	}
	if v.config.MaxCommandLength > 0 && len(command) > v.config.MaxCommandLength {
		return errs.NewConfigurationError("command exceeds maximum length", "command").
			With("limit", v.config.MaxCommandLength)
	}
	if v.dangerousPattern != nil && v.dangerousPattern.MatchString(command) {
		return errs.NewConfigurationError("command contains potentially dangerous patterns", "command")
	}
	return nil
}

// ValidateName checks the optional profile name.
func (v *Validator) ValidateName(name string) error {
	if v.config.MaxNameLength > 0 && len(name) > v.config.MaxNameLength {
		return errs.NewConfigurationError("name exceeds maximum length", "name").
			With("limit", v.config.MaxNameLength)
	}
	return nil
}

// ValidateRequest checks every field of req. The runner repeats the
// structural checks; these are the limits only the API imposes.
func (v *Validator) ValidateRequest(req models.ProfileRequest) error {
	if err := v.ValidateName(req.Name); err != nil {
		return err
	}
	if len(req.Command) > 0 && req.Line != "" {
		return errs.NewConfigurationError("command and line are mutually exclusive", "command")
	}
	if err := v.ValidateCommand(req.DisplayCommand()); err != nil {
		return err
	}
	if req.Timeout < 0 {
		return errs.NewConfigurationError("timeout must not be negative", "timeout").
			With(errs.KeyTimeout, time.Duration(req.Timeout).String())
	}
	if v.config.MaxTimeout > 0 && time.Duration(req.Timeout) > v.config.MaxTimeout {
		return errs.NewConfigurationError(
			fmt.Sprintf("timeout exceeds maximum of %s", v.config.MaxTimeout), "timeout").
			With(errs.KeyTimeout, time.Duration(req.Timeout).String())
	}
	if err := runner.ValidateSampleRate(req.SampleRate); err != nil {
		return err
	}
	if v.config.MaxSampleRate > 0 && req.SampleRate > v.config.MaxSampleRate {
		return errs.NewSamplingError("sample rate out of range", req.SampleRate)
	}
	for k := range req.Env {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			return errs.NewConfigurationError("invalid environment variable name", "env").
				With("env.key", k)
		}
	}
	return nil
}

// BodySizeLimitMiddleware limits request body size
func BodySizeLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "request body too large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// SecurityHeadersMiddleware adds security headers
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// RequestIDMiddleware propagates or assigns X-Request-ID.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		c.Set(ContextRequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}
