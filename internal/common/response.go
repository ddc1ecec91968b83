package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes. 1xxxx request validation, 4xxxx client/auth, 5xxxx internal.
const (
	CodeInvalidJSON       = 10001
	CodeValidation        = 10002
	CodeEmailTaken        = 10003
	CodeInvalidThreadID   = 10004
	CodeUnauthorized      = 40101
	CodeBadCredentials    = 40102
	CodeRouteNotFound     = 40400
	CodeUserNotFound      = 40401
	CodeThreadNotFound    = 40404
	CodeMethodNotAllowed  = 40500
	CodeRateLimited       = 42900
	CodeInternal          = 50001
	CodeStreamUnsupported = 50002
)

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, data)
}

func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.AbortWithStatusJSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}

// FailWith adds extra top-level fields to the error body.
func FailWith(c *gin.Context, httpStatus int, code int, msg string, extra gin.H) {
	body := gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(httpStatus, body)
}
