// Package common разбор запроса, общий для хэндлеров. Ошибки не пишутся
// в ответ напрямую: они уходят в middleware.ErrorHandler через c.Error.
package common

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/http/middleware"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// Page окно выборки из query-параметров limit и offset.
type Page struct {
	Limit  int
	Offset int
}

// Actor пользователь, проставленный middleware.Auth. Без него запрос
// завершается 401 и возвращается false.
func Actor(c *gin.Context) (uuid.UUID, bool) {
	if raw, ok := c.Get(middleware.ContextUserIDKey); ok {
		if id, ok := raw.(uuid.UUID); ok && id != uuid.Nil {
			return id, true
		}
	}
	Fail(c, apperror.ErrUnauthorized)
	return uuid.Nil, false
}

func IsAdmin(c *gin.Context) bool {
	return c.GetString(middleware.ContextRoleKey) == middleware.RoleAdmin
}

// PathID UUID из параметра пути. Неверный формат даёт VALIDATION_ERROR.
func PathID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		Fail(c, apperror.New(apperror.ErrCodeValidation, "неверный идентификатор "+param))
		return uuid.Nil, false
	}
	return id, true
}

// ActorAndPathID Actor и PathID одним вызовом.
func ActorAndPathID(c *gin.Context, param string) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := Actor(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	id, ok := PathID(c, param)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return userID, id, true
}

// PageOf читает limit и offset. Пустой или нечисловой limit заменяется на def,
// слишком большой обрезается до ceiling.
func PageOf(c *gin.Context, def, ceiling int) Page {
	p := Page{Limit: def}
	if n, err := strconv.Atoi(c.Query("limit")); err == nil && n > 0 {
		p.Limit = min(n, ceiling)
	}
	if n, err := strconv.Atoi(c.Query("offset")); err == nil && n > 0 {
		p.Offset = n
	}
	return p
}

func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
}

func FailValidation(c *gin.Context, err error) {
	Fail(c, apperror.Wrap(err, apperror.ErrCodeValidation, "ошибка валидации запроса: "+err.Error()))
}
