package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 512
)

/* client 单个订阅连接，只推送不接收业务消息 */
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	topic  string
	remote string

	closeOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn, topic string) *client {
	return &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
		topic:  topic,
		remote: conn.RemoteAddr().String(),
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

/* readPump 读取控制帧以维持心跳，对端关闭后注销 */
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

/* writePump 发送队列中的消息与定时 ping */
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
