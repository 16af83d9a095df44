package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// ErrorBody тело ответа с ошибкой.
type ErrorBody struct {
	Error ErrorInfo `json:"error"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorHandler обрабатывает ошибки централизованно.
// Хэндлер кладёт ошибку в c.Error и возвращается; здесь она превращается в ответ.
// Внутренние причины клиенту не показываются.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Проверяем, не был ли уже отправлен ответ
		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status, body := render(err)

		fields := logrus.Fields{
			"error":  err.Error(),
			"code":   body.Error.Code,
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		}
		if status >= http.StatusInternalServerError {
			logger.Log.WithFields(fields).Error("http: ошибка запроса")
		} else {
			logger.Log.WithFields(fields).Debug("http: запрос отклонён")
		}

		c.JSON(status, body)
	}
}

func render(err error) (int, ErrorBody) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		msg := appErr.Message
		if appErr.HTTPStatus >= http.StatusInternalServerError && appErr.Code != apperror.ErrCodeGatewayRetryable && appErr.Code != apperror.ErrCodeGatewayTerminal {
			msg = "внутренняя ошибка сервера"
		}
		return appErr.HTTPStatus, ErrorBody{Error: ErrorInfo{Code: string(appErr.Code), Message: msg}}
	}
	return http.StatusInternalServerError, ErrorBody{Error: ErrorInfo{
		Code:    string(apperror.ErrCodeInternal),
		Message: "внутренняя ошибка сервера",
	}}
}
