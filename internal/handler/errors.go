package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/flicky/go-checkout-api/internal/dto"
	"github.com/flicky/go-checkout-api/internal/middleware"
	"github.com/flicky/go-checkout-api/internal/service"
)

func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindBusinessRule, service.KindStockUnavailable, service.KindCartEmpty:
		return http.StatusBadRequest
	case service.KindUnauthorized:
		return http.StatusForbidden
	case service.KindConflict:
		return http.StatusConflict
	case service.KindInvalidCredentials:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// writeError translates a service error into the JSON error body. Internal
// errors are logged with their cause and reported without it.
func writeError(c *gin.Context, log *slog.Logger, err error) {
	status := statusFor(service.KindOf(err))
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
		msg = "internal server error"
	} else {
		log.Info("request rejected", "method", c.Request.Method, "path", c.Request.URL.Path, "status", status, "error", err)
	}
	c.JSON(status, dto.NewErrorResponse(status, msg, c.Request.URL.Path))
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, dto.NewErrorResponse(http.StatusBadRequest, msg, c.Request.URL.Path))
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		badRequest(c, "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

func actor(c *gin.Context) service.Actor {
	caller := middleware.GetCaller(c)
	return service.Actor{UserID: caller.UserID, Role: caller.Role}
}
