package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const clientSendBuffer = 64

/*
Hub 连接管理器
功能：登记在线客户端并向订阅者广播消息。
客户端可按 topic（任务 id）过滤；发送缓冲区满的慢客户端会被断开，不阻塞广播方
*/
type Hub struct {
	mu             sync.RWMutex
	clients        map[*client]struct{}
	maxConnections int

	count     atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64

	logger *zap.Logger
}

func NewHub(maxConnections int) *Hub {
	return &Hub{
		clients:        make(map[*client]struct{}),
		maxConnections: maxConnections,
		logger:         zap.L().Named("ws-hub"),
	}
}

/* IsAtCapacity 0 表示不限制 */
func (h *Hub) IsAtCapacity() bool {
	return h.maxConnections > 0 && h.count.Load() >= int64(h.maxConnections)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.count.Inc()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	h.mu.Unlock()
	if ok {
		h.count.Dec()
		c.close()
	}
}

/*
Broadcast 广播消息
功能：payload 只编码一次；topic 为空的客户端接收全部消息
*/
func (h *Hub) Broadcast(topic string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("编码广播消息失败", zap.Error(err))
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if c.topic != "" && c.topic != topic {
			continue
		}
		select {
		case c.send <- data:
			h.delivered.Inc()
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.dropped.Inc()
		h.logger.Warn("客户端接收过慢，断开连接", zap.String("remote", c.remote))
		h.unregister(c)
	}
}

/* CloseAll 关闭所有连接 */
func (h *Hub) CloseAll() {
	h.mu.RLock()
	all := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.unregister(c)
	}
}

/* Stats 运行统计 */
type Stats struct {
	Clients   int64 `json:"clients"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
}

func (h *Hub) Stats() Stats {
	return Stats{
		Clients:   h.count.Load(),
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
	}
}
