package apierrors

import (
	"github.com/gin-gonic/gin"
)

// APIError is the JSON error body of the status API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error aborts the request with the registered status and message for code.
func Error(c *gin.Context, code string) {
	c.AbortWithStatusJSON(Registry.HTTPStatus(code), gin.H{"error": New(code)})
}

// ErrorWithMessage aborts with a custom message for code.
func ErrorWithMessage(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(Registry.HTTPStatus(code), gin.H{"error": APIError{Code: code, Message: message}})
}

// FromError maps err through the taxonomy and aborts the request with it.
func FromError(c *gin.Context, err error) {
	code := CodeOf(err)
	ErrorWithMessage(c, code, err.Error())
}

// New builds an APIError with the default message for code.
func New(code string) APIError {
	return APIError{Code: code, Message: Registry.Message(code)}
}
