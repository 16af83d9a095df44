package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/dto"
	"github.com/ignatzorin/freelance-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/freelance-escrow/internal/service"
)

// NotificationHandler входящие пользователя. Те же уведомления приходят
// в WebSocket, здесь их можно дочитать после переподключения.
type NotificationHandler struct {
	inbox *service.NotificationService
}

func NewNotificationHandler(inbox *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{inbox: inbox}
}

// List GET /notifications?unread_only=true&type=order.
func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := common.Actor(c)
	if !ok {
		return
	}

	page := common.PageOf(c, 20, 100)
	filter := repository.NotificationFilter{
		UnreadOnly:  c.Query("unread_only") == "true",
		EventPrefix: c.Query("type"),
	}
	inbox, err := h.inbox.Inbox(c.Request.Context(), userID, filter, page.Limit, page.Offset)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Inbox(inbox.Items, inbox.Unread))
}

// MarkOne POST /notifications/:id/read
func (h *NotificationHandler) MarkOne(c *gin.Context) {
	userID, id, ok := common.ActorAndPathID(c, "id")
	if !ok {
		return
	}

	if err := h.inbox.MarkOneRead(c.Request.Context(), userID, id); err != nil {
		common.Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkMany POST /notifications/read
// Без тела или с пустым ids отмечает всё.
func (h *NotificationHandler) MarkMany(c *gin.Context) {
	userID, ok := common.Actor(c)
	if !ok {
		return
	}

	var req dto.MarkReadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.FailValidation(c, err)
			return
		}
	}

	n, err := h.inbox.MarkRead(c.Request.Context(), userID, req.IDs)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}
