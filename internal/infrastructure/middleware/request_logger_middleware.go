package middleware

import (
	"time"

	"texstream/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// RequestLoggerMiddleware logs every request through cl. Register it after
// TracingMiddleware so the trace id is on the request context.
func RequestLoggerMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ctx := c.Request.Context()
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			ctx = logger.WithValue(ctx, logger.TraceIDKey, sc.TraceID().String())
		}
		if room, ok := c.Get("room"); ok {
			if s, ok := room.(string); ok {
				ctx = logger.WithValue(ctx, logger.RoomKey, s)
			}
		}
		cl.LogRequest(ctx, c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
