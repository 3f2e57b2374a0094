package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.GetCurrentStatus())
}

// POST /api/v1/system/shutdown
func (s *Server) shutdown(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{
		"message": "shutdown initiated",
	})

	// Detach from the request context; the response is already on the wire.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.lm.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown failed", zap.Error(err))
		}
	}()
}
