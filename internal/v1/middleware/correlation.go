// Package middleware contains Gin middleware for the application.
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wavecast/broker/internal/v1/logging"
)

// HeaderXCorrelationID is the header key for the correlation ID.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID tags every request with a correlation ID. The value rides
// the request context so WebSocket sessions spawned from the upgrade keep
// it in their log lines for the connection's whole lifetime.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderXCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		// Echo in the response for client-side correlation
		c.Header(HeaderXCorrelationID, correlationID)

		// Attach to the request context for the logger and the session
		ctx := context.WithValue(c.Request.Context(), logging.CorrelationIDKey, correlationID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(logging.CorrelationIDKey), correlationID)

		c.Next()
	}
}
