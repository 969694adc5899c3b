package middleware

import (
	"net/http"

	"texstream/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware turns the last error attached to the gin context
// into a JSON body. AppErrors keep their code and status; anything else is
// reported as an internal error.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		appErr := errors.GetAppError(err)
		if appErr == nil {
			logger.Errorw("unhandled request error",
				"error", err,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
			writeError(c, http.StatusInternalServerError, errors.ErrCodeInternal, "internal server error", nil)
			return
		}

		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		if status >= http.StatusInternalServerError {
			logger.Errorw("request failed",
				"code", appErr.Code,
				"error", appErr,
				"path", c.Request.URL.Path,
			)
		} else {
			logger.Debugw("request rejected",
				"code", appErr.Code,
				"message", appErr.Message,
				"path", c.Request.URL.Path,
			)
		}
		writeError(c, status, appErr.Code, appErr.Message, appErr.Context)
	}
}

func writeError(c *gin.Context, status int, code errors.ErrorCode, message string, details map[string]interface{}) {
	body := gin.H{
		"error":   string(code),
		"message": message,
	}
	if len(details) > 0 {
		body["details"] = details
	}
	c.JSON(status, body)
}

// RecoveryMiddleware recovers from panics in handlers and answers 500.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Errorw("panic recovered",
					"panic", rec,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				writeError(c, http.StatusInternalServerError, errors.ErrCodeInternal, "internal server error", nil)
				c.Abort()
			}
		}()

		c.Next()
	}
}
