package gateway

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// TagResponse is the body of a single-tag lookup.
type TagResponse struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleGetTags() gin.HandlerFunc {
	return func(c *gin.Context) {
		keys := s.deps.Tags.Keys()
		if keys == nil {
			keys = []string{}
		}
		c.JSON(http.StatusOK, keys)
	}
}

func (s *Server) handleGetTag() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := strings.TrimPrefix(c.Param("name"), "/")

		v, ok := s.deps.Tags.Lookup(name)
		if !ok {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("Tag '%s' not found", name)})
			return
		}
		c.JSON(http.StatusOK, TagResponse{Name: name, Value: v.Interface()})
	}
}

func (s *Server) handleGetIndex() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := s.cfg.IndexPath
		if path == "" {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "index.html not found"})
			return
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "index.html not found"})
			return
		}
		c.File(path)
	}
}

func (s *Server) handleGetHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := s.deps.Health.Check(s.deps.SystemID)
		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	}
}
