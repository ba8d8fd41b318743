package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flicky/go-checkout-api/internal/dto"
	"github.com/flicky/go-checkout-api/internal/service"
)

type PaymentHandler struct {
	svc *service.PaymentService
	log *slog.Logger
}

func NewPaymentHandler(svc *service.PaymentService, log *slog.Logger) *PaymentHandler {
	return &PaymentHandler{svc: svc, log: log}
}

// Simulate accepts an optional {"force_fail": bool} body.
func (h *PaymentHandler) Simulate(c *gin.Context) {
	orderID, ok := parseID(c, "orderId")
	if !ok {
		return
	}
	var req dto.SimulatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err.Error())
		return
	}

	payment, err := h.svc.SimulatePayment(c.Request.Context(), actor(c), orderID, req.ForceFail)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToPaymentResponse(payment))
}

func (h *PaymentHandler) Status(c *gin.Context) {
	orderID, ok := parseID(c, "orderId")
	if !ok {
		return
	}
	payment, err := h.svc.GetPaymentStatus(c.Request.Context(), actor(c), orderID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToPaymentResponse(payment))
}
