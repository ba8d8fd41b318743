package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flicky/go-checkout-api/internal/dto"
	"github.com/flicky/go-checkout-api/internal/service"
)

type SessionCookie struct {
	Name   string
	Secure bool
}

type AuthHandler struct {
	authService *service.AuthService
	cookie      SessionCookie
	log         *slog.Logger
}

func NewAuthHandler(authService *service.AuthService, cookie SessionCookie, log *slog.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, cookie: cookie, log: log}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	resp, err := h.authService.Register(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Login returns the token in the body and also sets it as the session
// cookie, which is what browsers send back on later requests.
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	resp, err := h.authService.Login(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, resp.Token, int(h.authService.TokenTTL().Seconds()), "/", "", h.cookie.Secure, true)
	c.JSON(http.StatusOK, resp)
}
