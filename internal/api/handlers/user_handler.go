package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"homebid/internal/apperrors"
	"homebid/internal/auth"
	"homebid/internal/config"
	"homebid/internal/services"
)

// UserHandler provisions the minimal identity the bidding flow needs.
// Registration returns a bearer token directly: this subsystem has no
// password credentials, the surrounding platform owns real sign-in.
type UserHandler struct {
	cfg         *config.Config
	userService services.IUserService
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(cfg *config.Config, userService services.IUserService) *UserHandler {
	return &UserHandler{cfg: cfg, userService: userService}
}

type createUserRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
	Phone string `json:"phone"`
}

// CreateUser handles POST /v1/user.
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request: %v", err))
		return
	}

	user, err := h.userService.CreateUser(c.Request.Context(), req.Name, req.Email, req.Phone)
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := auth.GenerateJWT(user.ID, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		respondError(c, apperrors.Persistence(err, "failed to issue token"))
		return
	}
	respondOK(c, http.StatusCreated, gin.H{"user": user, "token": token})
}
