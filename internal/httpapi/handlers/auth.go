package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/recipeworks/recipeforge/internal/common"
)

type loginReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login authenticates the operator against the configured bcrypt hash and
// issues a short-lived JWT for the admin endpoints.
func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	hash := h.Cfg.AdminPasswordHash
	if hash == "" {
		common.Fail(c, http.StatusForbidden, 40301, "login disabled: no admin password configured")
		return
	}

	if req.Username != h.Cfg.AdminUser ||
		bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid credentials")
		return
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": req.Username,
		"iat": now.Unix(),
		"exp": now.Add(24 * time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(h.Cfg.JWTSecret))
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to sign token")
		return
	}

	common.OK(c, gin.H{"token": signed})
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}
