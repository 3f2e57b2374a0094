package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLineSim/internal/api/websocket"
	"github.com/KevinKickass/OpenLineSim/internal/auth"
	"github.com/KevinKickass/OpenLineSim/internal/config"
	"github.com/KevinKickass/OpenLineSim/internal/interfaces"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
	limiter     *commandLimiter
	accessTTL   time.Duration
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
		limiter:     newCommandLimiter(cfg.Server.CommandRateLimit, cfg.Server.CommandRateBurst),
		accessTTL:   cfg.Auth.AccessTokenTTL,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the routing table for httptest-driven tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH ENDPOINTS (PUBLIC) ====================
		authPublic := v1.Group("/auth")
		{
			authPublic.POST("/login", s.login)
			authPublic.POST("/refresh", s.refreshToken)
		}

		// ==================== AUTH ENDPOINTS (AUTHENTICATED) ====================
		authProtected := v1.Group("/auth")
		authProtected.Use(s.authService.AuthMiddleware())
		{
			authProtected.POST("/logout", s.logout)
			authProtected.GET("/me", s.getCurrentUser)
		}

		// ==================== LINE (READ: PUBLIC) ====================
		// Viewers resync over GET /line/status without credentials, same as
		// the websocket stream. Only the command route mutates anything.
		lineGroup := v1.Group("/line")
		{
			lineGroup.GET("/status", s.getLineStatus)
			lineGroup.GET("/orders", s.getLineOrders)
			lineGroup.GET("/alerts", s.getLineAlerts)

			command := lineGroup.Group("")
			command.Use(RateLimitMiddleware(s.limiter))
			command.Use(s.authService.AuthMiddleware())
			command.Use(auth.RequirePermission(auth.PermOperator))
			{
				command.POST("/command", s.executeLineCommand)
			}
		}

		// ==================== SYSTEM (OPERATOR+) ====================
		system := v1.Group("/system")
		system.Use(s.authService.AuthMiddleware())
		system.Use(auth.RequirePermission(auth.PermOperator))
		{
			system.GET("/status", s.getSystemStatus)
			system.POST("/shutdown", auth.RequirePermission(auth.PermAdmin), s.shutdown)
		}

		// ==================== WEBSOCKET (PUBLIC - READ-ONLY STREAM) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.ClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
