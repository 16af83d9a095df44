package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

type staticTokens struct {
	userID uuid.UUID
	role   string
}

func (s staticTokens) ParseAccess(token string) (uuid.UUID, string, error) {
	if token != "good" {
		return uuid.Nil, "", errors.New("bad token")
	}
	return s.userID, s.role, nil
}

func serve(r http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddlewareAndRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	admin := uuid.New()
	r := gin.New()
	r.Use(ErrorHandler(), AuthMiddleware(staticTokens{userID: admin, role: RoleAdmin}))
	r.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, c.MustGet(ContextUserIDKey).(uuid.UUID).String())
	})
	r.GET("/admin", RequireRole(RoleAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/me", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/me", map[string]string{"Authorization": "Basic good"}).Code)
	w := serve(r, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer bad"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"UNAUTHORIZED"`)

	w = serve(r, http.MethodGet, "/me", map[string]string{"Authorization": "bearer good"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, admin.String(), w.Body.String())
	assert.Equal(t, http.StatusNoContent, serve(r, http.MethodGet, "/admin", map[string]string{"Authorization": "Bearer good"}).Code)

	client := gin.New()
	client.Use(ErrorHandler(), AuthMiddleware(staticTokens{userID: uuid.New(), role: "client"}))
	client.GET("/admin", RequireRole(RoleAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	assert.Equal(t, http.StatusForbidden, serve(client, http.MethodGet, "/admin", map[string]string{"Authorization": "Bearer good"}).Code)
}

func TestErrorHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler())
	fail := func(err error) gin.HandlerFunc {
		return func(c *gin.Context) { _ = c.Error(err) }
	}
	r.GET("/frozen", fail(apperror.ErrWalletFrozen))
	r.GET("/funds", fail(apperror.Wrap(errors.New("balance 5"), apperror.ErrCodeInsufficientFunds, "недостаточно средств")))
	r.GET("/internal", fail(apperror.Wrap(errors.New("pq: connection refused"), apperror.ErrCodeDatabaseError, "ошибка базы")))
	r.GET("/plain", fail(errors.New("boom")))
	r.GET("/gateway", fail(apperror.New(apperror.ErrCodeGatewayRetryable, "шлюз недоступен, повторите позже")))
	r.GET("/written", func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{"ok": true})
		_ = c.Error(errors.New("после ответа"))
	})

	tests := []struct {
		path    string
		status  int
		code    string
		message string
	}{
		{"/frozen", http.StatusLocked, "WALLET_FROZEN", apperror.ErrWalletFrozen.Message},
		{"/funds", http.StatusBadRequest, "INSUFFICIENT_FUNDS", "недостаточно средств"},
		{"/internal", http.StatusInternalServerError, "DATABASE_ERROR", "внутренняя ошибка сервера"},
		{"/plain", http.StatusInternalServerError, "INTERNAL_ERROR", "внутренняя ошибка сервера"},
		{"/gateway", http.StatusServiceUnavailable, "GATEWAY_RETRYABLE", "шлюз недоступен, повторите позже"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := serve(r, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), `"code":"`+tt.code+`"`)
			assert.Contains(t, w.Body.String(), tt.message)
			assert.NotContains(t, w.Body.String(), "pq:")
		})
	}

	w := serve(r, http.MethodGet, "/written", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestUUIDValidator(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/orders/:id", UUIDValidator("id"), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := serve(r, http.MethodGet, "/orders/nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
	assert.Equal(t, http.StatusNoContent, serve(r, http.MethodGet, "/orders/"+uuid.NewString(), nil).Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store, err := NewLimiterStore(nil)
	require.NoError(t, err)

	user := uuid.New()
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.GetHeader("X-User") != "" {
			c.Set(ContextUserIDKey, user)
		}
		c.Next()
	}, RateLimitMiddleware(store, 2, time.Minute))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	authed := map[string]string{"X-User": "1"}
	assert.Equal(t, http.StatusNoContent, serve(r, http.MethodGet, "/x", authed).Code)
	w := serve(r, http.MethodGet, "/x", authed)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodGet, "/x", authed).Code)

	// анонимный запрос считается по IP отдельно от пользователя
	assert.Equal(t, http.StatusNoContent, serve(r, http.MethodGet, "/x", nil).Code)
}
