package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/docquery/gatekeeper/internal/config"
	"github.com/docquery/gatekeeper/internal/security"
)

// AuthHandler handles operator login.
type AuthHandler struct {
	admin config.AdminConfig
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(admin config.AdminConfig) *AuthHandler {
	return &AuthHandler{admin: admin}
}

// loginRequest is the login payload.
type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

// Login verifies the operator password and issues a JWT.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if strings.TrimSpace(h.admin.PasswordHash) == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "operator access not configured"})
		return
	}
	if !security.CheckPassword(h.admin.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	token, errIssue := security.IssueOperatorToken(h.admin.JWTSecret, h.admin.JWTExpiry)
	if errIssue != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_in": int64(h.admin.JWTExpiry.Seconds())})
}
