package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/slotworks/vendo/internal/payment/domain"
)

// webhookBodyLimit bounds gateway notification payloads.
const webhookBodyLimit = 64 << 10

// HandlePaymentWebhook ingests a gateway notification. The gateway retries
// until it sees 200, so anything the engine has already applied must answer
// 200 again rather than an error.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, webhookBodyLimit))
	if err != nil || len(payload) == 0 {
		AbortWithError(c, paymentdomain.ErrInvalidPayload)
		return
	}

	result, err := s.paymentSvc.IngestWebhook(c.Request.Context(), payload)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// VerifyPayment is the operator fallback for a lost webhook.
func (s *Server) VerifyPayment(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var body struct {
		Actor string `json:"actor"`
	}
	_ = c.ShouldBindJSON(&body)

	result, err := s.paymentSvc.VerifyManual(c.Request.Context(), id, body.Actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
