package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ignatzorin/freelance-escrow/internal/goroutine"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 4 * 1024

	// Единственная команда, которую сервер принимает от клиента.
	cmdRead = "notification.read"
)

// Client одно WebSocket-подключение пользователя.
type Client struct {
	conn   *websocket.Conn
	hub    *Hub
	userID uuid.UUID
	send   chan []byte
	once   sync.Once
}

func NewClient(conn *websocket.Conn, hub *Hub, userID uuid.UUID) *Client {
	return &Client{
		conn:   conn,
		hub:    hub,
		userID: userID,
		send:   make(chan []byte, 16),
	}
}

type command struct {
	Type string      `json:"type"`
	IDs  []uuid.UUID `json:"ids"`
}

type readAck struct {
	Type string `json:"type"`
	Data struct {
		Marked int `json:"marked"`
	} `json:"data"`
}

// Run блокируется до разрыва соединения или отмены ctx.
func (c *Client) Run(ctx context.Context) {
	goroutine.SafeGo(func() {
		defer c.Close()
		c.writeLoop()
	})
	defer c.Close()
	goroutine.DefaultRecoveryHandler.Recover(func() { c.readLoop(ctx) })
}

// Close идемпотентен.
func (c *Client) Close() {
	c.once.Do(func() {
		c.hub.Unregister(c)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *Client) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for ctx.Err() == nil {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.WithField("user_id", c.userID).WithError(err).Debug("ws: соединение оборвано")
			}
			return
		}
		c.handle(ctx, raw)
	}
}

// handle разбирает команду клиента. Неизвестные и битые кадры пропускаются.
func (c *Client) handle(ctx context.Context, raw []byte) {
	var cmd command
	if err := json.Unmarshal(raw, &cmd); err != nil || cmd.Type != cmdRead {
		return
	}
	inbox := c.hub.currentInbox()
	if inbox == nil {
		return
	}
	log := logger.Log.WithField("user_id", c.userID)
	n, err := inbox.MarkRead(ctx, c.userID, cmd.IDs)
	if err != nil {
		log.WithError(err).Warn("ws: не удалось отметить уведомления прочитанными")
		return
	}

	ack := readAck{Type: cmdRead}
	ack.Data.Marked = n
	frame, err := json.Marshal(ack)
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
		log.Debug("ws: подтверждение прочтения не влезло в буфер")
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
