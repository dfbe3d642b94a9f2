package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	stockdomain "github.com/slotworks/vendo/internal/stock/domain"
)

const defaultLogLimit = 50

func (s *Server) ListStock(c *gin.Context) {
	machineID := strings.TrimSpace(c.Param("machine_id"))
	if machineID == "" {
		AbortWithError(c, stockdomain.ErrInvalidMachine)
		return
	}

	slots, err := s.stockSvc.ListSlots(c.Request.Context(), machineID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"machine_id": machineID, "slots": slots})
}

func (s *Server) GetSlot(c *gin.Context) {
	machineID, slotNumber, err := slotParams(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	slot, err := s.stockSvc.GetSlot(c.Request.Context(), machineID, slotNumber)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, slot)
}

func (s *Server) ListStockLogs(c *gin.Context) {
	machineID, slotNumber, err := slotParams(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	limit := defaultLogLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		limit = parsed
	}

	logs, err := s.stockSvc.Logs(c.Request.Context(), machineID, slotNumber, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// SetStock applies an operator-supplied absolute count after a refill or
// manual correction.
func (s *Server) SetStock(c *gin.Context) {
	machineID, slotNumber, err := slotParams(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var body struct {
		Target int    `json:"target"`
		Actor  string `json:"actor"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	slot, err := s.stockSvc.SetStock(c.Request.Context(), stockdomain.SetStockRequest{
		MachineID:  machineID,
		SlotNumber: slotNumber,
		Target:     body.Target,
		Actor:      body.Actor,
		Reason:     body.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, slot)
}

func slotParams(c *gin.Context) (string, int, error) {
	machineID := strings.TrimSpace(c.Param("machine_id"))
	if machineID == "" {
		return "", 0, stockdomain.ErrInvalidMachine
	}
	slotNumber, err := strconv.Atoi(strings.TrimSpace(c.Param("slot_number")))
	if err != nil || slotNumber <= 0 {
		return "", 0, stockdomain.ErrInvalidSlot
	}
	return machineID, slotNumber, nil
}
