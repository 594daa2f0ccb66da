package ws

import (
	"net/http"

	"minerfleet/plane/internal/api/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		/* 浏览器来源已由 CORS 中间件校验 */
		return true
	},
}

/*
Server 任务事件推送服务
功能：GET /ws/jobs[?job_id=] 升级为 WebSocket，之后持续推送任务事件
*/
type Server struct {
	hub    *Hub
	logger *zap.Logger
}

/*
NewServer 创建 WebSocket 服务器
功能：maxConnections 为 0 表示不限制
*/
func NewServer(maxConnections int) *Server {
	return &Server{
		hub:    NewHub(maxConnections),
		logger: zap.L().Named("ws"),
	}
}

// HandleWebSocket WebSocket 处理函数
func (s *Server) HandleWebSocket(c *gin.Context) {
	if s.hub.IsAtCapacity() {
		s.logger.Warn("WebSocket 连接数已达上限，拒绝新连接", zap.Int64("current", s.hub.count.Load()))
		c.JSON(http.StatusServiceUnavailable, response.Body{
			Success: false,
			Error:   &response.ErrorBody{Kind: "unavailable", Message: "too many websocket clients", Suggestion: "retry later"},
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("WebSocket 升级失败", zap.Error(err))
		return
	}

	cl := newClient(s.hub, conn, c.Query("job_id"))
	s.hub.register(cl)
	s.logger.Debug("WebSocket 客户端已连接", zap.String("remote", cl.remote), zap.String("topic", cl.topic))

	go cl.writePump()
	go cl.readPump()
}

/* Publish 推送消息给订阅 topic 的客户端 */
func (s *Server) Publish(topic string, payload interface{}) {
	s.hub.Broadcast(topic, payload)
}

/* Close 断开所有客户端 */
func (s *Server) Close() {
	s.hub.CloseAll()
}

// GetStats 获取统计信息
func (s *Server) GetStats() Stats {
	return s.hub.Stats()
}
