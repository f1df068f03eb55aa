package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"profiler/pkg/auth"
	"profiler/pkg/logger"
)

const (
	// AuthHeaderKey is the standard Authorization header
	AuthHeaderKey = "Authorization"
	// APIKeyHeaderKey is the custom API key header
	APIKeyHeaderKey = "X-API-Key"
	// ContextPrincipalKey is the key used to store the caller in context
	ContextPrincipalKey = "principal"
	// ContextRequestIDKey is the key used to store request ID
	ContextRequestIDKey = "request_id"
)

// Authentication methods recorded on a Principal.
const (
	MethodJWT    = "jwt"
	MethodAPIKey = "api_key"
)

// Labels stamped onto profiles started by an authenticated caller. They
// overwrite any caller-supplied values of the same name.
const (
	LabelRequestedBy = "requested_by"
	LabelAuthMethod  = "auth_method"
	LabelAPIKeyID    = "api_key_id"
)

// AuthConfig holds authentication middleware configuration
type AuthConfig struct {
	JWTService  *auth.JWTService
	APIKeyStore auth.APIKeyStore
	SkipPaths   []string // Paths that don't require authentication
	Logger      *zap.Logger
}

// Principal is the caller a request was authenticated as.
type Principal struct {
	UserID   string
	Username string
	Role     auth.Role
	Method   string
	KeyID    string // set for API keys
}

// Labels describes who started a run, for attaching to its profile.
func (p *Principal) Labels() map[string]string {
	who := p.Username
	if who == "" {
		who = p.UserID
	}
	labels := map[string]string{
		LabelRequestedBy: who,
		LabelAuthMethod:  p.Method,
	}
	if p.KeyID != "" {
		labels[LabelAPIKeyID] = p.KeyID
	}
	return labels
}

// AuthMiddleware authenticates a request by JWT bearer token or API key.
// A credential that is present but invalid is rejected outright rather
// than falling through to the other method.
func AuthMiddleware(config AuthConfig) gin.HandlerFunc {
	log := config.Logger
	if log == nil {
		log = logger.Named("auth")
	}

	return func(c *gin.Context) {
		// Check if path should skip authentication
		for _, path := range config.SkipPaths {
			if matchPath(c.Request.URL.Path, path) {
				c.Next()
				return
			}
		}

		method, principal, reason := authenticate(c, config)
		if principal != nil {
			c.Set(ContextPrincipalKey, principal)
			c.Next()
			return
		}

		if method == "" {
			AuthFailures.WithLabelValues("none", reason).Inc()
		} else {
			AuthFailures.WithLabelValues(method, reason).Inc()
			log.Warn("Authentication rejected",
				zap.String("method", method),
				zap.String("reason", reason),
				zap.String("request_id", c.GetString(ContextRequestIDKey)),
				zap.String("client_ip", c.ClientIP()),
			)
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": reason,
			"hint":  "provide Bearer token or X-API-Key header",
		})
	}
}

// authenticate returns the method tried and either a principal or the
// reason it failed. An empty method means no credential was sent.
func authenticate(c *gin.Context, config AuthConfig) (string, *Principal, string) {
	// Try JWT first
	if header := c.GetHeader(AuthHeaderKey); header != "" && config.JWTService != nil {
		token, ok := bearerToken(header)
		if !ok {
			return MethodJWT, nil, "malformed authorization header"
		}
		claims, err := config.JWTService.ValidateToken(token)
		if err != nil {
			return MethodJWT, nil, "invalid token"
		}
		return MethodJWT, &Principal{
			UserID:   claims.UserID,
			Username: claims.Username,
			Role:     claims.Role,
			Method:   MethodJWT,
		}, ""
	}

	// Then the API key
	if key := c.GetHeader(APIKeyHeaderKey); key != "" && config.APIKeyStore != nil {
		info, err := config.APIKeyStore.ValidateKey(c.Request.Context(), key)
		if err != nil {
			return MethodAPIKey, nil, "invalid api key"
		}
		// The key's owner is the caller; its name identifies the key itself
		return MethodAPIKey, &Principal{
			UserID:   info.OwnerID,
			Username: info.OwnerID,
			Role:     info.Role,
			Method:   MethodAPIKey,
			KeyID:    info.ID,
		}, ""
	}

	return "", nil, "authentication required"
}

// bearerToken extracts the token from "Bearer <token>".
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(c *gin.Context) (*Principal, bool) {
	value, exists := c.Get(ContextPrincipalKey)
	if !exists {
		return nil, false
	}
	p, ok := value.(*Principal)
	return p, ok
}

// RequireRole rejects callers below the required role. Routes declare the
// role they need when they are registered.
func RequireRole(required auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}

		if !p.Role.HasPermission(required) {
			AuthFailures.WithLabelValues(p.Method, "insufficient role").Inc()
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    "insufficient permissions",
				"required": required,
				"current":  p.Role,
			})
			return
		}

		c.Next()
	}
}

// matchPath checks if a request path matches a pattern
// Supports wildcards: /api/* matches /api/anything
func matchPath(path, pattern string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(path, strings.TrimSuffix(pattern, "*"))
	}
	return path == pattern
}
