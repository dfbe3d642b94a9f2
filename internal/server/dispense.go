package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	dispensedomain "github.com/slotworks/vendo/internal/dispense/domain"
)

// TriggerDispense starts the dispense for a PAID order. The payment flow
// triggers in-process; this endpoint is the operator path for an order whose
// automatic trigger was interrupted.
func (s *Server) TriggerDispense(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.dispenseSvc.Trigger(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "status": "dispensing"})
}

// RetryDispense re-issues dispense commands for an order parked in
// PENDING_DISPENSE after a trigger failure.
func (s *Server) RetryDispense(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.dispenseSvc.Retry(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "status": "dispensing"})
}

// ConfirmDispense accepts a device confirmation over HTTP, the fallback for
// machines whose pub/sub result message was lost.
func (s *Server) ConfirmDispense(c *gin.Context) {
	var req dispensedomain.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.OrderID) == "" {
		AbortWithError(c, dispensedomain.ErrInvalidConfirm)
		return
	}

	if err := s.dispenseSvc.Confirm(c.Request.Context(), req); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": req.OrderID, "accepted": true})
}

func (s *Server) ListOrderDispenseLogs(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	logs, err := s.dispenseSvc.Logs(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}
