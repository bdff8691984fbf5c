package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"
	"productstream/internal/pkg/logger"
	"productstream/internal/service/productstream/domain"
	"productstream/internal/service/productstream/domain/port"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { // 编辑端与服务同域部署，允许所有来源
		return true
	},
}

// GrowlHub 维护所有编辑端的 WebSocket 连接，按会话 ID 推送提示消息
type GrowlHub struct {
	nodeID     string
	clients    map[string]map[*wsClient]struct{}
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	lock       sync.RWMutex
}

// NewGrowlHub 创建 Hub，nodeID 只用于日志中区分实例。
func NewGrowlHub(nodeID string) *GrowlHub {
	return &GrowlHub{
		nodeID:     nodeID,
		clients:    make(map[string]map[*wsClient]struct{}),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
}

// Run 处理连接注册与注销，直到 ctx 结束。结束时关闭所有连接。
func (h *GrowlHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.lock.Lock()
			set, ok := h.clients[client.sessionID]
			if !ok {
				set = make(map[*wsClient]struct{})
				h.clients[client.sessionID] = set
			}
			set[client] = struct{}{}
			h.lock.Unlock()
			zlog.Info().Str("session", client.sessionID).Str("node", h.nodeID).Msg("growl client registered")
		case client := <-h.unregister:
			h.lock.Lock()
			if set, ok := h.clients[client.sessionID]; ok {
				if _, ok := set[client]; ok {
					delete(set, client)
					close(client.send)
				}
				if len(set) == 0 {
					delete(h.clients, client.sessionID)
				}
			}
			h.lock.Unlock()
			zlog.Info().Str("session", client.sessionID).Msg("growl client unregistered")
		case <-ctx.Done():
			h.lock.Lock()
			for id, set := range h.clients {
				for c := range set {
					close(c.send)
				}
				delete(h.clients, id)
			}
			h.lock.Unlock()
			return
		}
	}
}

// Connected 返回某个会话当前的连接数
func (h *GrowlHub) Connected(sessionID string) int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients[sessionID])
}

// Send 向会话的所有连接推送一条消息，返回实际送达的连接数。
// 发送队列已满的连接直接丢弃这条消息。
func (h *GrowlHub) Send(msg domain.GrowlMessage) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0
	}
	h.lock.RLock()
	defer h.lock.RUnlock()
	sent := 0
	for c := range h.clients[msg.SessionID] {
		select {
		case c.send <- payload:
			sent++
		default:
			zlog.Warn().Str("session", msg.SessionID).Msg("growl client queue full, message dropped")
		}
	}
	return sent
}

// ForSession 返回绑定到某个会话的 Notifier
func (h *GrowlHub) ForSession(sessionID string) port.Notifier {
	return port.NotifierFunc(func(ctx context.Context, title, message string) {
		sent := h.Send(domain.GrowlMessage{
			SessionID: sessionID,
			Title:     title,
			Message:   message,
			SentAt:    time.Now(),
		})
		logger.Ctx(ctx).Info().
			Str("session", sessionID).
			Str("title", title).
			Int("delivered", sent).
			Msg(message)
	})
}

// ServeWs 把 HTTP 请求升级为 WebSocket，会话 ID 取自 sessionId 查询参数
func (h *GrowlHub) ServeWs(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{hub: h, conn: conn, send: make(chan []byte, 16), sessionID: sessionID}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// wsClient 是一个 WebSocket 连接的代表
type wsClient struct {
	hub       *GrowlHub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
}

// readPump 只处理心跳与关闭，编辑端不会通过此连接发送业务消息
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zlog.Debug().Err(err).Str("session", c.sessionID).Msg("growl connection closed")
			}
			return
		}
	}
}

// writePump 把 send 队列里的消息写入连接，并定期发送 ping
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
