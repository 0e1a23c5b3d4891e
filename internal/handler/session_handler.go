package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"vardast-go/internal/model"
	"vardast-go/internal/service"
	"vardast-go/pkg/log"
)

// SessionHandler 负责会话与消息的查询管理 API。
type SessionHandler struct {
	assistantService service.AssistantService
}

// NewSessionHandler 创建一个新的 SessionHandler 实例。
func NewSessionHandler(assistantService service.AssistantService) *SessionHandler {
	return &SessionHandler{assistantService: assistantService}
}

// CreateSession 处理为助手显式创建会话的请求。
func (h *SessionHandler) CreateSession(c *gin.Context) {
	// 请求体可以省略，省略时使用默认标题
	var req model.CreateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Warnf("CreateSession: 无效的请求负载, error: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
			return
		}
	}

	session, err := h.assistantService.CreateSession(c.Param("assistantId"), req.Title)
	if err != nil {
		respondServiceError(c, "创建会话", err)
		return
	}

	log.Infof("会话已创建, session: %s, assistant: %s", session.ID, session.AssistantID)
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "success", "data": session})
}

// ListSessions 处理获取助手会话列表的请求。
func (h *SessionHandler) ListSessions(c *gin.Context) {
	sessions, err := h.assistantService.ListSessions(c.Param("assistantId"))
	if err != nil {
		respondServiceError(c, "获取会话列表", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": sessions})
}

// ListMessages 处理获取会话完整消息转写的请求，消息按时间升序返回。
func (h *SessionHandler) ListMessages(c *gin.Context) {
	messages, err := h.assistantService.ListSessionMessages(c.Param("assistantId"), c.Param("sessionId"))
	if err != nil {
		respondServiceError(c, "获取会话消息", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": messages})
}
