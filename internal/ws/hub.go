package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/goroutine"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
)

// Inbox входящие пользователя. Хаб сначала сохраняет уведомление и только
// потом пишет в сокет, поэтому офлайн-пользователь увидит его в списке.
type Inbox interface {
	Save(ctx context.Context, userID uuid.UUID, eventType string, data any) (uuid.UUID, error)
	MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int, error)
}

// Push сообщение, которое получает клиент. ID нужен для подтверждения прочтения.
type Push struct {
	ID   uuid.UUID `json:"id"`
	Type string    `json:"type"`
	Data any       `json:"data"`
}

// Hub держит подключения по пользователям и раздаёт им уведомления.
type Hub struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]map[*Client]struct{}
	inbox Inbox

	join  chan *Client
	leave chan *Client
	out   chan delivery
	ctx   context.Context
}

type delivery struct {
	userID uuid.UUID
	frame  []byte
}

// NewHub создаёт хаб, живущий до отмены ctx.
func NewHub(ctx context.Context) *Hub {
	return &Hub{
		conns: make(map[uuid.UUID]map[*Client]struct{}),
		join:  make(chan *Client),
		leave: make(chan *Client),
		out:   make(chan delivery, 32),
		ctx:   ctx,
	}
}

// SetInbox подключает хранилище входящих. Без него хаб только пушит.
func (h *Hub) SetInbox(inbox Inbox) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inbox = inbox
}

func (h *Hub) currentInbox() Inbox {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.inbox
}

// Run главный цикл хаба.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.join:
			h.attach(c)
		case c := <-h.leave:
			h.detach(c)
		case d := <-h.out:
			h.fanOut(d)
		}
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.join <- c:
	case <-h.ctx.Done():
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.leave <- c:
	case <-h.ctx.Done():
	}
}

// BroadcastToUser сохраняет уведомление и отправляет его всем подключениям
// пользователя. Ошибка сохранения возвращается, чтобы шина повторила доставку.
func (h *Hub) BroadcastToUser(ctx context.Context, userID uuid.UUID, eventType string, data any) error {
	push := Push{Type: eventType, Data: data}
	if inbox := h.currentInbox(); inbox != nil {
		id, err := inbox.Save(ctx, userID, eventType, data)
		if err != nil {
			return fmt.Errorf("ws: сохранение уведомления %s: %w", eventType, err)
		}
		push.ID = id
	}
	frame, err := json.Marshal(push)
	if err != nil {
		return fmt.Errorf("ws: сериализация %s: %w", eventType, err)
	}
	return h.enqueue(ctx, userID, frame)
}

func (h *Hub) enqueue(ctx context.Context, userID uuid.UUID, frame []byte) error {
	select {
	case h.out <- delivery{userID: userID, frame: frame}:
		return nil
	case <-h.ctx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Online число открытых подключений пользователя.
func (h *Hub) Online(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

func (h *Hub) attach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.conns[c.userID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) detach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.conns[c.userID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.conns, c.userID)
	}
}

func (h *Hub) fanOut(d delivery) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns[d.userID] {
		select {
		case c.send <- d.frame:
		default:
			logger.Log.WithField("user_id", d.userID).Warn("ws: клиент не успевает читать, отключаем")
			goroutine.SafeGo(c.Close)
		}
	}
}
