package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/freelance-escrow/internal/dto"
	"github.com/ignatzorin/freelance-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/freelance-escrow/internal/service"
)

// IdempotencyKeyHeader заголовок ключа идемпотентности заявки на вывод.
const IdempotencyKeyHeader = "Idempotency-Key"

type WithdrawalHandler struct {
	svc *service.WithdrawalService
}

func NewWithdrawalHandler(s *service.WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{svc: s}
}

// Create POST /withdrawals
// Повтор с тем же ключом возвращает существующую заявку со статусом 200.
func (h *WithdrawalHandler) Create(c *gin.Context) {
	userID, ok := common.Actor(c)
	if !ok {
		return
	}

	var req dto.WithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailValidation(c, err)
		return
	}
	key := c.GetHeader(IdempotencyKeyHeader)
	if key == "" {
		key = req.IdempotencyKey
	}

	w, dup, err := h.svc.Request(c.Request.Context(), userID, service.WithdrawalInput{
		Amount:         req.Amount,
		Destination:    req.Destination,
		IdempotencyKey: key,
	})
	if err != nil {
		common.Fail(c, err)
		return
	}

	status := http.StatusCreated
	if dup {
		status = http.StatusOK
	}
	c.JSON(status, dto.Withdrawal(w))
}

// List GET /withdrawals
func (h *WithdrawalHandler) List(c *gin.Context) {
	userID, ok := common.Actor(c)
	if !ok {
		return
	}

	page := common.PageOf(c, 20, 100)
	list, err := h.svc.List(c.Request.Context(), userID, page.Limit, page.Offset)
	if err != nil {
		common.Fail(c, err)
		return
	}

	out := make([]dto.WithdrawalResponse, 0, len(list))
	for i := range list {
		out = append(out, dto.Withdrawal(&list[i]))
	}
	c.JSON(http.StatusOK, out)
}

// Get GET /withdrawals/:id
func (h *WithdrawalHandler) Get(c *gin.Context) {
	userID, id, ok := common.ActorAndPathID(c, "id")
	if !ok {
		return
	}

	w, err := h.svc.Get(c.Request.Context(), userID, id)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Withdrawal(w))
}

// Cancel POST /withdrawals/:id/cancel
func (h *WithdrawalHandler) Cancel(c *gin.Context) {
	userID, id, ok := common.ActorAndPathID(c, "id")
	if !ok {
		return
	}

	w, err := h.svc.Cancel(c.Request.Context(), userID, id)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Withdrawal(w))
}
