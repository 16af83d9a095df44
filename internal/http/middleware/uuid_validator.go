package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// UUIDValidator отсекает запрос с не-UUID в параметрах пути до хэндлера.
//
//	router.GET("/orders/:id", UUIDValidator("id"), handler.Get)
func UUIDValidator(paramNames ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, name := range paramNames {
			if _, err := uuid.Parse(c.Param(name)); err != nil {
				abort(c, apperror.New(apperror.ErrCodeValidation, "параметр "+name+" должен быть UUID"))
				return
			}
		}
		c.Next()
	}
}
