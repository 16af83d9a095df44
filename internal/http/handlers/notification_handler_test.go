package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/dto"
	"github.com/ignatzorin/freelance-escrow/internal/http/middleware"
	"github.com/ignatzorin/freelance-escrow/internal/infrastructure/persistence/memory"
	"github.com/ignatzorin/freelance-escrow/internal/service"
)

func inboxRouter(svc *service.NotificationService, user uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.ErrorHandler(), asUser(user, "client"))
	h := NewNotificationHandler(svc)
	r.GET("/notifications", h.List)
	r.POST("/notifications/:id/read", h.MarkOne)
	r.POST("/notifications/read", h.MarkMany)
	return r
}

func TestNotificationHandler_Inbox(t *testing.T) {
	svc := service.NewNotificationService(memory.New(), nil)
	user := uuid.New()
	ctx := context.Background()

	paid, err := svc.Save(ctx, user, "order.paid", map[string]string{"order_id": "o-1"})
	require.NoError(t, err)
	_, err = svc.Save(ctx, user, "withdrawal.completed", map[string]string{"amount": "25.00"})
	require.NoError(t, err)
	_, err = svc.Save(ctx, uuid.New(), "order.paid", nil)
	require.NoError(t, err)

	r := inboxRouter(svc, user)

	w := do(r, http.MethodGet, "/notifications?type=order.", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page dto.InboxResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "order.paid", page.Items[0].Type)
	assert.JSONEq(t, `{"order_id":"o-1"}`, string(page.Items[0].Data))
	assert.Equal(t, 2, page.Unread)

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/notifications/"+paid.String()+"/read", nil).Code)
	w = do(r, http.MethodPost, "/notifications/"+paid.String()+"/read", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/notifications/read", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"marked":1}`, w.Body.String())

	w = do(r, http.MethodGet, "/notifications?unread_only=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[],"unread":0}`, w.Body.String())
}

func TestNotificationHandler_BadInput(t *testing.T) {
	r := inboxRouter(service.NewNotificationService(memory.New(), nil), uuid.New())

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/notifications/nope/read", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/notifications/read", map[string]any{"ids": []string{"x"}}).Code)
}
