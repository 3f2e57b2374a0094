package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLineSim/internal/line"
	"github.com/KevinKickass/OpenLineSim/internal/metrics"
	"github.com/KevinKickass/OpenLineSim/internal/types"
)

// GET /api/v1/line/status
//
// Returns the bare LineState snapshot. Viewers decode this payload directly
// when they resync, so it stays unwrapped.
func (s *Server) getLineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.LineController().Status())
}

// GET /api/v1/line/orders
func (s *Server) getLineOrders(c *gin.Context) {
	orders := s.lm.LineController().Orders()
	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"count":  len(orders),
	})
}

// GET /api/v1/line/alerts
func (s *Server) getLineAlerts(c *gin.Context) {
	recent := s.lm.AlertLog().Recent()
	c.JSON(http.StatusOK, gin.H{
		"alerts": recent,
		"count":  len(recent),
	})
}

// POST /api/v1/line/command
func (s *Server) executeLineCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(
			types.CodeInvalidRequest, "invalid request body", err.Error()))
		return
	}

	cmd, err := line.ParseCommand(req.Command)
	if err != nil {
		metrics.Commands.WithLabelValues(req.Command, "invalid").Inc()
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(
			types.CodeInvalidRequest, err.Error(), nil))
		return
	}

	if err := s.lm.LineController().ExecuteCommand(c.Request.Context(), cmd); err != nil {
		metrics.Commands.WithLabelValues(req.Command, "rejected").Inc()
		s.logger.Warn("line command rejected",
			zap.String("command", req.Command),
			zap.Error(err))
		c.JSON(http.StatusConflict, types.NewErrorResponse(
			types.CodeCommandRejected, err.Error(), nil))
		return
	}

	metrics.Commands.WithLabelValues(req.Command, "accepted").Inc()
	c.JSON(http.StatusAccepted, gin.H{
		"message": "command accepted",
		"command": req.Command,
	})
}
