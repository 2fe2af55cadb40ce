package middleware

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime/debug"

	"mailwizz/internal/config"
	"mailwizz/internal/validation"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ErrorResponse 统一错误响应格式
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     string      `json:"error"`
	Message   string      `json:"message,omitempty"`
	Details   interface{} `json:"details,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Code      string      `json:"code,omitempty"`
}

// ErrorHandler 错误处理中间件
func ErrorHandler() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		if err, ok := recovered.(string); ok {
			handlePanicError(c, err)
		} else if err, ok := recovered.(error); ok {
			handlePanicError(c, err.Error())
		} else {
			handlePanicError(c, fmt.Sprintf("Unknown error: %v", recovered))
		}
	})
}

// handlePanicError 处理panic错误
func handlePanicError(c *gin.Context, err string) {
	log.Printf("Panic recovered: %s", err)

	if config.Env.IsDevelopmentMode() {
		log.Printf("Stack trace: %s", debug.Stack())
	}

	response := ErrorResponse{
		Success: false,
		Error:   "Internal Server Error",
		Message: "An unexpected error occurred",
		Code:    "INTERNAL_ERROR",
	}

	// 开发模式下返回详细错误信息
	if config.Env.IsDevelopmentMode() {
		response.Details = err
	}

	c.JSON(http.StatusInternalServerError, response)
	c.Abort()
}

// HandleError 处理业务错误
func HandleError(c *gin.Context, err error, statusCode int) {
	if err == nil {
		return
	}

	if statusCode >= http.StatusInternalServerError {
		log.Printf("Business error on %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}

	response := ErrorResponse{
		Success: false,
		Error:   getErrorMessage(statusCode),
		Message: err.Error(),
		Code:    getErrorCode(statusCode),
	}

	if config.Env.IsDevelopmentMode() {
		response.Details = map[string]interface{}{
			"error_type": fmt.Sprintf("%T", err),
		}
	}

	c.JSON(statusCode, response)
	c.Abort()
}

// HandleModelError 按错误类型选择状态码：字段验证错误422，记录不存在404，其他500
func HandleModelError(c *gin.Context, err error) {
	if errs, ok := validation.AsErrors(err); ok {
		HandleValidationErrors(c, errs)
		return
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		HandleError(c, err, http.StatusNotFound)
		return
	}
	HandleError(c, err, http.StatusInternalServerError)
}

// HandleValidationErrors 返回模型的字段验证错误
func HandleValidationErrors(c *gin.Context, errs validation.Errors) {
	response := ErrorResponse{
		Success: false,
		Error:   "Validation Error",
		Message: "Please fix the following errors",
		Code:    "VALIDATION_ERROR",
		Details: errs,
	}

	c.JSON(http.StatusUnprocessableEntity, response)
	c.Abort()
}

// HandleValidationError 处理单个字段的验证错误
func HandleValidationError(c *gin.Context, field string, message string) {
	response := ErrorResponse{
		Success: false,
		Error:   "Validation Error",
		Message: fmt.Sprintf("Validation failed for field '%s': %s", field, message),
		Code:    "VALIDATION_ERROR",
		Details: map[string]string{
			"field":   field,
			"message": message,
		},
	}

	c.JSON(http.StatusBadRequest, response)
	c.Abort()
}

// HandleNotFoundError 处理资源不存在错误
func HandleNotFoundError(c *gin.Context, resource string, id interface{}) {
	response := ErrorResponse{
		Success: false,
		Error:   "Resource Not Found",
		Message: fmt.Sprintf("%s with ID '%v' not found", resource, id),
		Code:    "NOT_FOUND",
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}

	c.JSON(http.StatusNotFound, response)
	c.Abort()
}

// HandleUnauthorizedError 处理未授权错误
func HandleUnauthorizedError(c *gin.Context, message string) {
	response := ErrorResponse{
		Success: false,
		Error:   "Unauthorized",
		Message: message,
		Code:    "UNAUTHORIZED",
	}

	c.JSON(http.StatusUnauthorized, response)
	c.Abort()
}

// HandleForbiddenError 处理禁止访问错误
func HandleForbiddenError(c *gin.Context, message string) {
	response := ErrorResponse{
		Success: false,
		Error:   "Forbidden",
		Message: message,
		Code:    "FORBIDDEN",
	}

	c.JSON(http.StatusForbidden, response)
	c.Abort()
}

// HandleConflictError 状态不允许当前操作
func HandleConflictError(c *gin.Context, message string) {
	response := ErrorResponse{
		Success: false,
		Error:   "Conflict",
		Message: message,
		Code:    "CONFLICT",
	}

	c.JSON(http.StatusConflict, response)
	c.Abort()
}

// HandleServiceUnavailableError 处理服务不可用错误
func HandleServiceUnavailableError(c *gin.Context, service string, reason string) {
	response := ErrorResponse{
		Success: false,
		Error:   "Service Unavailable",
		Message: fmt.Sprintf("Service '%s' is currently unavailable: %s", service, reason),
		Code:    "SERVICE_UNAVAILABLE",
		Details: map[string]string{
			"service": service,
			"reason":  reason,
		},
	}

	c.JSON(http.StatusServiceUnavailable, response)
	c.Abort()
}

// getErrorMessage 根据状态码获取错误消息
func getErrorMessage(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "Bad Request"
	case http.StatusUnauthorized:
		return "Unauthorized"
	case http.StatusForbidden:
		return "Forbidden"
	case http.StatusNotFound:
		return "Not Found"
	case http.StatusMethodNotAllowed:
		return "Method Not Allowed"
	case http.StatusConflict:
		return "Conflict"
	case http.StatusUnprocessableEntity:
		return "Unprocessable Entity"
	case http.StatusTooManyRequests:
		return "Too Many Requests"
	case http.StatusInternalServerError:
		return "Internal Server Error"
	case http.StatusServiceUnavailable:
		return "Service Unavailable"
	default:
		return "Unknown Error"
	}
}

// getErrorCode 根据状态码获取错误代码
func getErrorCode(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusUnprocessableEntity:
		return "UNPROCESSABLE_ENTITY"
	case http.StatusTooManyRequests:
		return "QUOTA_EXCEEDED"
	case http.StatusInternalServerError:
		return "INTERNAL_SERVER_ERROR"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	default:
		return "UNKNOWN_ERROR"
	}
}
