package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"verdant/models"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func respond(c *gin.Context, code int, message string, data any) {
	c.JSON(code, envelope{Status: statusSuccess, Message: message, Data: data})
}

func abort(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, envelope{Status: statusError, Message: message})
}

// abortWithError 將核心的錯誤種類轉換為 HTTP 狀態碼，data 用於回傳部分完成的結果
func abortWithError(c *gin.Context, op string, err error, data any) {
	code, message := http.StatusInternalServerError, "Internal server error"
	switch {
	case errors.Is(err, models.ErrNotFound):
		code, message = http.StatusNotFound, "Resource not found"
	case errors.Is(err, models.ErrInvalidInput):
		code, message = http.StatusBadRequest, "Invalid input"
	case errors.Is(err, models.ErrStorageFailure):
		code, message = http.StatusBadGateway, "Object storage failure"
	case errors.Is(err, models.ErrPersistenceFailure):
		code, message = http.StatusInternalServerError, "Database failure"
	}
	if code >= http.StatusInternalServerError {
		slog.Error("Request failed", slog.String("op", op), identityAttr(currentIdentity(c)), slog.Any("error", err))
	} else {
		slog.Debug("Request rejected", slog.String("op", op), identityAttr(currentIdentity(c)), slog.Any("error", err))
	}
	c.AbortWithStatusJSON(code, envelope{Status: statusError, Message: message, Data: data})
}

// bindingMessage 將 validator 的錯誤整理成客戶端可讀的訊息
func bindingMessage(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return "Malformed request: " + err.Error()
	}
	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		if fieldErr.Param() != "" {
			messages = append(messages, fmt.Sprintf("%s failed on %s=%s", fieldErr.Field(), fieldErr.Tag(), fieldErr.Param()))
			continue
		}
		messages = append(messages, fmt.Sprintf("%s failed on %s", fieldErr.Field(), fieldErr.Tag()))
	}
	return "Validation failed: " + strings.Join(messages, "; ")
}
