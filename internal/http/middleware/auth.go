package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

const (
	ContextUserIDKey = "userID"
	ContextRoleKey   = "role"
)

// RoleAdmin единственная роль, которая что-то меняет в правах: разбор споров,
// сверка и разморозка кошельков. Покупатель и продавец определяются заказом.
const RoleAdmin = "admin"

// TokenParser проверка access токена сервиса авторизации.
type TokenParser interface {
	ParseAccess(token string) (uuid.UUID, string, error)
}

// BearerToken токен из заголовка Authorization либо пустая строка.
func BearerToken(c *gin.Context) string {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// AuthMiddleware кладёт в контекст пользователя и роль из токена.
// Ответ 401 формирует ErrorHandler, поэтому он должен стоять раньше.
func AuthMiddleware(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := BearerToken(c)
		if raw == "" {
			abort(c, apperror.ErrUnauthorized)
			return
		}
		userID, role, err := tokens.ParseAccess(raw)
		if err != nil || userID == uuid.Nil {
			abort(c, apperror.Wrap(err, apperror.ErrCodeUnauthorized, "токен невалиден"))
			return
		}
		c.Set(ContextUserIDKey, userID)
		c.Set(ContextRoleKey, role)
		c.Next()
	}
}

// RequireRole ставится после AuthMiddleware.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRoleKey) != role {
			abort(c, apperror.ErrForbidden)
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
