package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenLineSim/internal/types"
)

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"` // seconds
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// POST /api/v1/auth/login
func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(
			types.CodeInvalidRequest, "invalid request body", err.Error()))
		return
	}

	accessToken, refreshToken, err := s.authService.Login(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, types.NewErrorResponse(
			types.CodeUnauthorized, "invalid credentials", nil))
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTTL.Seconds()),
	})
}

// POST /api/v1/auth/refresh
func (s *Server) refreshToken(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(
			types.CodeInvalidRequest, "invalid request body", err.Error()))
		return
	}

	accessToken, newRefreshToken, err := s.authService.RefreshAccessToken(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, types.NewErrorResponse(
			types.CodeUnauthorized, "invalid or expired refresh token", nil))
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTTL.Seconds()),
	})
}

// POST /api/v1/auth/logout
func (s *Server) logout(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(
			types.CodeInvalidRequest, "invalid request body", err.Error()))
		return
	}

	s.authService.RevokeRefreshToken(req.RefreshToken)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// GET /api/v1/auth/me
func (s *Server) getCurrentUser(c *gin.Context) {
	permissions, _ := c.Get("permissions")
	c.JSON(http.StatusOK, gin.H{
		"username":    c.GetString("username"),
		"role":        c.GetString("role"),
		"permissions": permissions,
	})
}
