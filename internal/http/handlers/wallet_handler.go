package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/freelance-escrow/internal/dto"
	"github.com/ignatzorin/freelance-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/freelance-escrow/internal/service"
)

type WalletHandler struct {
	wallets *service.WalletService
}

func NewWalletHandler(wallets *service.WalletService) *WalletHandler {
	return &WalletHandler{wallets: wallets}
}

// Get GET /wallet
func (h *WalletHandler) Get(c *gin.Context) {
	userID, ok := common.Actor(c)
	if !ok {
		return
	}

	w, err := h.wallets.Get(c.Request.Context(), userID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Wallet(w))
}

// Ledger GET /wallet/ledger
func (h *WalletHandler) Ledger(c *gin.Context) {
	userID, ok := common.Actor(c)
	if !ok {
		return
	}

	page := common.PageOf(c, 50, 500)
	entries, err := h.wallets.Ledger(c.Request.Context(), userID, page.Limit, page.Offset)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.LedgerEntries(entries))
}

// Reconcile POST /admin/reconcile
// Запускает сверку кошельков с журналом вне расписания.
func (h *WalletHandler) Reconcile(c *gin.Context) {
	report, err := h.wallets.Reconcile(c.Request.Context())
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"healthy": report.Healthy(), "report": report})
}

// Unfreeze POST /admin/wallets/:id/unfreeze
func (h *WalletHandler) Unfreeze(c *gin.Context) {
	adminID, accountID, ok := common.ActorAndPathID(c, "id")
	if !ok {
		return
	}

	if err := h.wallets.Unfreeze(c.Request.Context(), adminID, accountID); err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "кошелёк разморожен"})
}
