package security

import (
	"minerfleet/plane/internal/api/middleware"
	"minerfleet/plane/internal/api/response"
	"minerfleet/plane/internal/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

/*
AuthHandler 认证处理器
功能：运维账号登录与当前身份查询
*/
type AuthHandler struct {
	app    *types.App
	logger *zap.Logger
}

/*
NewAuthHandler 创建认证处理器
*/
func NewAuthHandler(app *types.App) *AuthHandler {
	return &AuthHandler{
		app:    app,
		logger: zap.L().Named("auth-handler"),
	}
}

/*
LoginRequest 登录请求
*/
type LoginRequest struct {
	Username string `json:"username" binding:"required,max=64"`
	Password string `json:"password" binding:"required,max=128"`
}

/*
Login 运维登录
功能：校验 bcrypt 哈希并签发 JWT
路由：POST /api/v1/auth/login
*/
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.GinBadRequest(c, "invalid request: "+err.Error())
		return
	}

	issued, err := h.app.Auth.Login(req.Username, req.Password)
	if err != nil {
		h.logger.Info("登录认证失败",
			zap.String("username", req.Username),
			zap.String("client_ip", c.ClientIP()))
		response.GinError(c, err)
		return
	}

	h.logger.Info("运维登录成功", zap.String("username", issued.Username))
	response.GinSuccess(c, issued)
}

/*
Me 当前运维账号
路由：GET /api/v1/auth/me
*/
func (h *AuthHandler) Me(c *gin.Context) {
	response.GinSuccess(c, gin.H{"username": middleware.GetOperator(c)})
}
