package submission

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes a Service over HTTP
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates the HTTP handlers of the submission endpoint
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Register mounts the transaction_details routes
func (h *Handler) Register(router gin.IRouter) {
	payments := router.Group("/api/v1/payments")
	{
		payments.GET("/:id/transaction_details", h.handleDetails)
		payments.POST("/:id/transaction_details", h.handleSubmit)
	}
}

func (h *Handler) handleDetails(c *gin.Context) {
	details, err := h.service.Details(c.Request.Context(), c.Param("id"), c.Query("sender_address"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (h *Handler) handleSubmit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	intent, err := h.service.Submit(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":         intent.ID,
		"payment_id": intent.PaymentID,
		"evidence":   intent.Evidence.Kind.String(),
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("transaction_details request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidSignature),
		errors.Is(err, ErrUnsupportedCurrency):
		return http.StatusBadRequest
	case errors.Is(err, ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadySubmitted),
		errors.Is(err, ErrDuplicateTransaction),
		errors.Is(err, ErrPaymentNotAwaiting):
		return http.StatusConflict
	case errors.Is(err, ErrVerificationUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
