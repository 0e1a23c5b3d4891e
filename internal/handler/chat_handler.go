package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"vardast-go/internal/model"
	"vardast-go/internal/service"
	"vardast-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责对话接口：一次性 JSON 响应与 WebSocket 流式响应。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler 实例。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// respondChatError 把对话过程中的错误映射为响应。
// 上游大模型调用失败返回 502，与本服务自身的内部错误区分开。
func respondChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAssistantNotFound),
		errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrSessionNotOwned):
		respondServiceError(c, "对话", err)
	default:
		log.Error("对话失败", err)
		c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "message": "对话失败", "data": nil})
	}
}

// ChatWithAssistant 在新会话中执行一轮对话。
func (h *ChatHandler) ChatWithAssistant(c *gin.Context) {
	h.handleTurn(c, c.Param("assistantId"), "")
}

// ChatInSession 在已有会话中执行一轮对话。
func (h *ChatHandler) ChatInSession(c *gin.Context) {
	h.handleTurn(c, c.Param("assistantId"), c.Param("sessionId"))
}

func (h *ChatHandler) handleTurn(c *gin.Context, assistantID, sessionID string) {
	var req model.ChatTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Chat: 无效的请求负载, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	resp, err := h.chatService.Chat(c.Request.Context(), assistantID, sessionID, req.UserMessage)
	if err != nil {
		respondChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": resp})
}

// wsTurnRequest 是 WebSocket 上一轮对话的请求帧。
type wsTurnRequest struct {
	SessionID   string `json:"session_id"`
	UserMessage string `json:"user_message"`
}

// chunkWriter 把流式分块包装成 JSON 帧发给客户端。
type chunkWriter struct {
	conn *websocket.Conn
}

func (w *chunkWriter) WriteMessage(messageType int, data []byte) error {
	frame := map[string]interface{}{"type": "chunk", "chunk": string(data)}
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(messageType, b)
}

// HandleWebsocket 处理一个流式对话连接。每条请求帧触发一轮对话：
// 分块以 {"type":"chunk"} 帧透传，结束后发送带会话与消息的 {"type":"done"} 帧。
func (h *ChatHandler) HandleWebsocket(c *gin.Context) {
	assistantID := c.Param("assistantId")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立, assistant: %s", assistantID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var req wsTurnRequest
		if err := json.Unmarshal(message, &req); err != nil || req.UserMessage == "" {
			h.writeWSError(conn, "无效的请求帧")
			continue
		}

		resp, err := h.chatService.StreamTurn(c.Request.Context(), assistantID, req.SessionID, req.UserMessage, &chunkWriter{conn: conn})
		if err != nil {
			log.Error("流式对话失败", err)
			h.writeWSError(conn, wsErrorMessage(err))
			continue
		}

		done := map[string]interface{}{
			"type":      "done",
			"data":      resp,
			"timestamp": time.Now().UnixMilli(),
		}
		b, _ := json.Marshal(done)
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			log.Warnf("写入 WebSocket 结束帧失败: %v", err)
			break
		}
	}
}

func (h *ChatHandler) writeWSError(conn *websocket.Conn, message string) {
	frame := map[string]interface{}{"type": "error", "message": message}
	b, _ := json.Marshal(frame)
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

func wsErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrAssistantNotFound):
		return "助手未找到"
	case errors.Is(err, service.ErrSessionNotFound):
		return "会话未找到"
	case errors.Is(err, service.ErrSessionNotOwned):
		return "会话不属于该助手"
	default:
		return "对话失败"
	}
}
