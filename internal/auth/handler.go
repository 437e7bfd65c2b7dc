package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bizdev-events/backend/pkg/response"
	"github.com/bizdev-events/backend/pkg/utils"
)

// Credentials is the dashboard account. PasswordHash is bcrypt.
type Credentials struct {
	Email        string
	PasswordHash string
}

// LoginRequest is the body for POST /api/admin/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string `json:"token"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	admin  Credentials
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates an auth handler. With empty credentials every login is refused.
func NewHandler(admin Credentials, jwt *JWTService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{admin: admin, jwt: jwt, logger: logger}
}

// Login handles POST /api/admin/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	if h.admin.Email == "" || !strings.EqualFold(req.Email, h.admin.Email) ||
		!utils.CheckPassword(req.Password, h.admin.PasswordHash) {
		h.logger.Warn("admin login rejected", zap.String("email", req.Email), zap.String("client_ip", c.ClientIP()))
		response.Unauthorized(c, "invalid email or password")
		return
	}

	token, err := h.jwt.Generate(h.admin.Email, RoleAdmin)
	if err != nil {
		h.logger.Error("generate token failed", zap.Error(err))
		response.Internal(c, "failed to generate token")
		return
	}

	response.OK(c, TokenResponse{Token: token, Email: h.admin.Email, Role: RoleAdmin})
}
