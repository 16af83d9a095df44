package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/dto"
	"github.com/ignatzorin/freelance-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/freelance-escrow/internal/service"
)

type DisputeHandler struct {
	svc *service.DisputeService
}

func NewDisputeHandler(s *service.DisputeService) *DisputeHandler {
	return &DisputeHandler{svc: s}
}

// Open POST /orders/:id/dispute
func (h *DisputeHandler) Open(c *gin.Context) {
	userID, orderID, ok := common.ActorAndPathID(c, "id")
	if !ok {
		return
	}

	var req dto.OpenDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailValidation(c, err)
		return
	}

	dispute, err := h.svc.Open(c.Request.Context(), userID, orderID, req.Reason)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.Dispute(dispute))
}

// GetByOrder GET /orders/:id/dispute
func (h *DisputeHandler) GetByOrder(c *gin.Context) {
	userID, orderID, ok := common.ActorAndPathID(c, "id")
	if !ok {
		return
	}

	dispute, err := h.svc.GetByOrder(c.Request.Context(), userID, common.IsAdmin(c), orderID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Dispute(dispute))
}

// Review POST /admin/disputes/:id/review
func (h *DisputeHandler) Review(c *gin.Context) {
	adminID, disputeID, ok := common.ActorAndPathID(c, "id")
	if !ok {
		return
	}

	dispute, err := h.svc.Review(c.Request.Context(), adminID, disputeID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Dispute(dispute))
}

// Resolve POST /admin/disputes/:id/resolve
func (h *DisputeHandler) Resolve(c *gin.Context) {
	adminID, disputeID, ok := common.ActorAndPathID(c, "id")
	if !ok {
		return
	}

	var req dto.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailValidation(c, err)
		return
	}

	dispute, order, err := h.svc.Resolve(c.Request.Context(), adminID, disputeID, service.ResolveInput{
		Outcome: entity.DisputeOutcome(req.Outcome),
		Ratio:   req.Ratio,
		Memo:    req.Memo,
	})
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ResolveDisputeResponse{
		Dispute: dto.Dispute(dispute),
		Order:   dto.Order(order),
	})
}

// List GET /admin/disputes?state=
func (h *DisputeHandler) List(c *gin.Context) {
	page := common.PageOf(c, 20, 100)
	disputes, err := h.svc.List(c.Request.Context(), c.Query("state"), page.Limit, page.Offset)
	if err != nil {
		common.Fail(c, err)
		return
	}

	out := make([]dto.DisputeResponse, 0, len(disputes))
	for i := range disputes {
		out = append(out, dto.Dispute(&disputes[i]))
	}
	c.JSON(http.StatusOK, out)
}
