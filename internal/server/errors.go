package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	dispensedomain "github.com/slotworks/vendo/internal/dispense/domain"
	orderdomain "github.com/slotworks/vendo/internal/order/domain"
	paymentdomain "github.com/slotworks/vendo/internal/payment/domain"
	stockdomain "github.com/slotworks/vendo/internal/stock/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotFound       = errors.New("not_found")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusForbidden, errorPayload{
			Type:    "invalid_signature",
			Message: "signature verification failed",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, dispensedomain.ErrDownstreamUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, orderdomain.ErrInvalidMachine),
		errors.Is(err, orderdomain.ErrInvalidQuantity),
		errors.Is(err, orderdomain.ErrInvalidItems),
		errors.Is(err, orderdomain.ErrInvalidOutcome),
		errors.Is(err, stockdomain.ErrInvalidMachine),
		errors.Is(err, stockdomain.ErrInvalidSlot),
		errors.Is(err, stockdomain.ErrInvalidQuantity),
		errors.Is(err, stockdomain.ErrInvalidLevel),
		errors.Is(err, stockdomain.ErrInvalidActor),
		errors.Is(err, dispensedomain.ErrInvalidConfirm),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrUnknownGatewayStatus),
		errors.Is(err, paymentdomain.ErrAmountMismatch):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, orderdomain.ErrNotFound),
		errors.Is(err, stockdomain.ErrSlotNotFound),
		errors.Is(err, paymentdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, orderdomain.ErrStateConflict),
		errors.Is(err, orderdomain.ErrStockInsufficient),
		errors.Is(err, orderdomain.ErrProductInactive),
		errors.Is(err, paymentdomain.ErrInvalidOrderState),
		errors.Is(err, dispensedomain.ErrStateConflict),
		errors.Is(err, dispensedomain.ErrNoSlotsForOrder),
		errors.Is(err, stockdomain.ErrWriteConflict):
		return true
	default:
		return false
	}
}
