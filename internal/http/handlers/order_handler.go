package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/dto"
	"github.com/ignatzorin/freelance-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-escrow/internal/service"
)

type OrderHandler struct {
	orders *service.OrderService
}

// NewOrderHandler создаёт новый хэндлер.
func NewOrderHandler(orders *service.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// Checkout обрабатывает POST /orders.
func (h *OrderHandler) Checkout(c *gin.Context) {
	userID, ok := common.Actor(c)
	if !ok {
		return
	}

	var req dto.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailValidation(c, err)
		return
	}
	if (req.GigID == nil) == (req.ProposalID == nil) {
		common.Fail(c, apperror.New(apperror.ErrCodeValidation, "нужно указать либо gig_id, либо proposal_id"))
		return
	}

	res, err := h.orders.Checkout(c.Request.Context(), userID, service.CheckoutInput{
		GigID:        req.GigID,
		PackageTier:  req.PackageTier,
		ProposalID:   req.ProposalID,
		Requirements: req.Requirements,
		Method:       req.Method,
	})
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.CheckoutResponse{
		Order:   dto.Order(res.Order),
		Payment: dto.PaymentIntent(res.Intent),
	})
}

// List обрабатывает GET /orders?role=buyer|seller&status=.
func (h *OrderHandler) List(c *gin.Context) {
	userID, ok := common.Actor(c)
	if !ok {
		return
	}

	page := common.PageOf(c, 20, 100)
	orders, err := h.orders.List(c.Request.Context(), userID, c.Query("role"), c.Query("status"), page.Limit, page.Offset)
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.Orders(orders))
}

// Get обрабатывает GET /orders/:id.
func (h *OrderHandler) Get(c *gin.Context) {
	userID, orderID, ok := h.ids(c)
	if !ok {
		return
	}

	details, err := h.orders.Get(c.Request.Context(), userID, common.IsAdmin(c), orderID)
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.OrderDetails(details.Order, details.Intent, details.Ledger, details.History, details.Deliveries))
}

// ConfirmPayment обрабатывает POST /orders/:id/confirm-payment.
// Сигнал от клиента только подсказка: статус всё равно проверяется у шлюза.
func (h *OrderHandler) ConfirmPayment(c *gin.Context) {
	userID, orderID, ok := h.ids(c)
	if !ok {
		return
	}

	order, err := h.orders.ConfirmPaymentHint(c.Request.Context(), userID, orderID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Order(order))
}

// Deliver обрабатывает POST /orders/:id/deliver.
func (h *OrderHandler) Deliver(c *gin.Context) {
	userID, orderID, ok := h.ids(c)
	if !ok {
		return
	}

	var req dto.DeliverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailValidation(c, err)
		return
	}

	order, err := h.orders.Deliver(c.Request.Context(), userID, orderID, service.DeliverInput{
		Note:        req.Note,
		Attachments: req.Attachments,
	})
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Order(order))
}

// Accept обрабатывает POST /orders/:id/accept.
func (h *OrderHandler) Accept(c *gin.Context) {
	userID, orderID, ok := h.ids(c)
	if !ok {
		return
	}

	order, err := h.orders.Accept(c.Request.Context(), userID, orderID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Order(order))
}

// RequestRevision обрабатывает POST /orders/:id/revision.
func (h *OrderHandler) RequestRevision(c *gin.Context) {
	userID, orderID, ok := h.ids(c)
	if !ok {
		return
	}

	var req dto.ReasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.FailValidation(c, err)
			return
		}
	}

	order, err := h.orders.RequestRevision(c.Request.Context(), userID, orderID, req.Reason)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Order(order))
}

// Cancel обрабатывает POST /orders/:id/cancel.
func (h *OrderHandler) Cancel(c *gin.Context) {
	userID, orderID, ok := h.ids(c)
	if !ok {
		return
	}

	var req dto.ReasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.FailValidation(c, err)
			return
		}
	}

	order, err := h.orders.Cancel(c.Request.Context(), userID, orderID, req.Reason)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Order(order))
}

// ids пользователь из токена и заказ из пути.
func (h *OrderHandler) ids(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	return common.ActorAndPathID(c, "id")
}
