package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// requestIDHeader is the header a caller may supply to correlate a request
// across the gateway and the core; one is minted when absent.
const requestIDHeader = "X-Request-Id"

// AttachRequestContext mirrors the teacher's global per-request context
// middleware (internal/http/middleware/request_context.go), generalized
// from session/user attachment (out of scope here, handled by the gateway)
// to a bare request-id so every log line the handlers emit can be
// correlated to one inbound call.
func AttachRequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}
