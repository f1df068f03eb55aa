package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	. "profiler/pkg/api/middleware"
	"profiler/pkg/auth"
)

func TestPrincipal_Labels(t *testing.T) {
	jwtCaller := &Principal{UserID: "u1", Username: "alice", Role: auth.RoleOperator, Method: MethodJWT}
	assert.Equal(t, map[string]string{
		LabelRequestedBy: "alice",
		LabelAuthMethod:  MethodJWT,
	}, jwtCaller.Labels())

	keyCaller := &Principal{UserID: "bot", Role: auth.RoleOperator, Method: MethodAPIKey, KeyID: "k1"}
	assert.Equal(t, map[string]string{
		LabelRequestedBy: "bot",
		LabelAuthMethod:  MethodAPIKey,
		LabelAPIKeyID:    "k1",
	}, keyCaller.Labels())
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwtSvc, err := auth.NewJWTService(auth.JWTConfig{SecretKey: "secret"})
	require.NoError(t, err)

	router := gin.New()
	router.Use(AuthMiddleware(AuthConfig{
		JWTService: jwtSvc,
		SkipPaths:  []string{"/public/*"},
		Logger:     zap.NewNop(),
	}))
	router.GET("/public/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/admin", RequireRole(auth.RoleAdmin), func(c *gin.Context) {
		p, ok := PrincipalFromContext(c)
		require.True(t, ok)
		c.String(http.StatusOK, p.Username)
	})

	get := func(path, authorization string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if authorization != "" {
			req.Header.Set(AuthHeaderKey, authorization)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusNoContent, get("/public/ping", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get("/admin", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get("/admin", "Bearer").Code)
	assert.Equal(t, http.StatusUnauthorized, get("/admin", "Bearer    ").Code)

	operator, err := jwtSvc.GenerateToken("u2", "ops", auth.RoleOperator)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, get("/admin", "Bearer "+operator).Code)

	admin, err := jwtSvc.GenerateToken("u1", "root", auth.RoleAdmin)
	require.NoError(t, err)
	w := get("/admin", "bearer "+admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "root", w.Body.String())
}
