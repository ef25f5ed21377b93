// middleware.go: Admission middleware bridging gin requests into the engine
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orbitex/ratelimitd/internal/ratelimit"
)

// userIDKey is where the auth middleware deposits the authenticated user ID.
const userIDKey = "user_id"

// rateLimitErrorBody is the denial response contract: status 429 with this
// exact JSON shape.
type rateLimitErrorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter string `json:"retry_after"`
}

// AdmissionMiddleware calls the limiter around every request and turns a deny
// decision into a 429. Excluded operational paths bypass the limiter entirely.
func AdmissionMiddleware(limiter *ratelimit.Limiter, excludedPaths []string) gin.HandlerFunc {
	excluded := make(map[string]struct{}, len(excludedPaths))
	for _, p := range excludedPaths {
		excluded[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := excluded[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		allowed, headers := limiter.Check(c.Request.Context(), descriptorFrom(c))
		for k, v := range headers {
			c.Header(k, v)
		}
		if !allowed {
			// A denial always carries Retry-After; the engine sets it whenever
			// a decision is rendered.
			c.AbortWithStatusJSON(http.StatusTooManyRequests, rateLimitErrorBody{
				Error:      "Rate limit exceeded",
				Message:    "Too many requests, please retry later.",
				RetryAfter: headers["Retry-After"],
			})
			return
		}
		c.Next()
	}
}

// descriptorFrom builds the abstract request descriptor the engine consumes.
func descriptorFrom(c *gin.Context) ratelimit.Request {
	return ratelimit.Request{
		Method:        c.Request.Method,
		Path:          c.Request.URL.Path,
		ClientAddress: c.ClientIP(),
		UserID:        c.GetString(userIDKey),
		APIKey:        c.GetHeader("X-API-Key"),
	}
}
