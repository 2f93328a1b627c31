package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/planner-api/pkg/errors"
	"github.com/noah-isme/planner-api/pkg/response"
)

type tokenIssuer interface {
	IssueToken(userID, email string) (string, time.Time, error)
}

// DevTokenRequest names the user a development token is issued for.
type DevTokenRequest struct {
	UserID string `json:"user_id" binding:"required" example:"9b2f6a80-3c55-4a0e-9c7e-2c4b8fd1a001"`
	Email  string `json:"email" example:"ana@example.com"`
}

// DevTokenResponse carries a signed access token.
type DevTokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AuthHandler issues local access tokens outside production.
type AuthHandler struct {
	service tokenIssuer
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc tokenIssuer) *AuthHandler {
	return &AuthHandler{service: svc}
}

// Token godoc
// @Summary Issue development token
// @Description Sign an access token for a user id. Only mounted outside production.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body DevTokenRequest true "Token payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /auth/token [post]
func (h *AuthHandler) Token(c *gin.Context) {
	var req DevTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid token payload"))
		return
	}

	token, expiresAt, err := h.service.IssueToken(req.UserID, req.Email)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, DevTokenResponse{AccessToken: token, TokenType: "Bearer", ExpiresAt: expiresAt}, nil)
}
