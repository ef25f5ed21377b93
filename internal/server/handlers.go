// handlers.go: Operational and administrative endpoints
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orbitex/ratelimitd/internal/ratelimit"
)

// apiResponse is the standard envelope for admin and ops endpoints.
type apiResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

func respond(c *gin.Context, status int, resp apiResponse) {
	resp.Timestamp = time.Now()
	resp.RequestID = c.GetString(requestIDKey)
	c.JSON(status, resp)
}

// handleHealth reports process and shared-store liveness.
func (s *Server) handleHealth(c *gin.Context) {
	store := "local"
	if s.limiter.StoreHealthy(c.Request.Context()) {
		store = "ok"
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"store":  store,
		"rules":  s.limiter.Rules(),
	})
}

// handleStatus is the read-only introspection endpoint: a non-mutating peek
// at the caller's current standing for a given path.
func (s *Server) handleStatus(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		path = c.Request.URL.Path
	}
	req := descriptorFrom(c)
	req.Path = path

	status, ok := s.limiter.Status(c.Request.Context(), req)
	if !ok {
		respond(c, http.StatusOK, apiResponse{
			Success: true,
			Message: "no rate limit configured for path",
			Data:    gin.H{"endpoint": path},
		})
		return
	}
	respond(c, http.StatusOK, apiResponse{Success: true, Data: status})
}

// ruleRequest is the admin API representation of a rule mutation.
type ruleRequest struct {
	Endpoint    string `json:"endpoint" binding:"required"`
	Window      string `json:"window" binding:"required"`
	MaxRequests int    `json:"max_requests"`
	Burst       int    `json:"burst"`
	Description string `json:"description"`
}

func (s *Server) handleAddRule(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, apiResponse{Success: false, Error: err.Error()})
		return
	}
	window, err := ratelimit.ParseWindow(req.Window)
	if err != nil {
		respond(c, http.StatusBadRequest, apiResponse{Success: false, Error: err.Error()})
		return
	}
	rule, err := ratelimit.NewRule(req.Endpoint, window, req.MaxRequests, req.Burst, req.Description)
	if err != nil {
		respond(c, http.StatusBadRequest, apiResponse{Success: false, Error: err.Error()})
		return
	}
	if err := s.limiter.AddRule(rule); err != nil {
		respond(c, http.StatusBadRequest, apiResponse{Success: false, Error: err.Error()})
		return
	}
	respond(c, http.StatusCreated, apiResponse{Success: true, Message: "rule installed"})
}

func (s *Server) handleRemoveRule(c *gin.Context) {
	var req struct {
		Endpoint string `json:"endpoint" binding:"required"`
		Window   string `json:"window" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, apiResponse{Success: false, Error: err.Error()})
		return
	}
	window, err := ratelimit.ParseWindow(req.Window)
	if err != nil {
		respond(c, http.StatusBadRequest, apiResponse{Success: false, Error: err.Error()})
		return
	}
	s.limiter.RemoveRule(req.Endpoint, window)
	respond(c, http.StatusOK, apiResponse{Success: true, Message: "rule removed"})
}

// adminAuth guards rule mutation behind a static admin token.
func adminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" || c.GetHeader("X-Admin-Token") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apiResponse{
				Success:   false,
				Error:     "admin authentication required",
				Timestamp: time.Now(),
			})
			return
		}
		c.Next()
	}
}
