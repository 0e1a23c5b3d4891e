// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"vardast-go/internal/model"
	"vardast-go/internal/service"
	"vardast-go/pkg/log"
)

// AssistantHandler 负责助手的增删改查 API。
type AssistantHandler struct {
	assistantService service.AssistantService
}

// NewAssistantHandler 创建一个新的 AssistantHandler 实例。
func NewAssistantHandler(assistantService service.AssistantService) *AssistantHandler {
	return &AssistantHandler{assistantService: assistantService}
}

// respondServiceError 把 service 层的领域错误映射为对应的 HTTP 状态码。
func respondServiceError(c *gin.Context, action string, err error) {
	switch {
	case errors.Is(err, service.ErrAssistantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "助手未找到", "data": nil})
	case errors.Is(err, service.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话未找到", "data": nil})
	case errors.Is(err, service.ErrDocumentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "知识文档未找到", "data": nil})
	case errors.Is(err, service.ErrSessionNotOwned):
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话不属于该助手", "data": nil})
	case errors.Is(err, service.ErrDocumentNotOwned):
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "知识文档不属于该助手", "data": nil})
	case errors.Is(err, service.ErrExtractorDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "文件导入未启用", "data": nil})
	case errors.Is(err, service.ErrArchiveDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "原始文件归档未启用", "data": nil})
	default:
		log.Error(action+" 失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": action + "失败", "data": nil})
	}
}

// CreateAssistant 处理创建助手的请求。
func (h *AssistantHandler) CreateAssistant(c *gin.Context) {
	var req model.CreateAssistantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("CreateAssistant: 无效的请求负载, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	assistant, err := h.assistantService.CreateAssistant(req)
	if err != nil {
		respondServiceError(c, "创建助手", err)
		return
	}

	log.Infof("助手已创建, id: %s, name: %s", assistant.ID, assistant.Name)
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "success", "data": assistant})
}

// ListAssistants 处理获取助手列表的请求。
func (h *AssistantHandler) ListAssistants(c *gin.Context) {
	assistants, err := h.assistantService.ListAssistants()
	if err != nil {
		respondServiceError(c, "获取助手列表", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": assistants})
}

// GetAssistant 处理获取单个助手详情的请求。
func (h *AssistantHandler) GetAssistant(c *gin.Context) {
	assistant, err := h.assistantService.GetAssistant(c.Param("assistantId"))
	if err != nil {
		respondServiceError(c, "获取助手", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": assistant})
}

// UpdateAssistant 处理更新助手的请求，未提供的字段保持原值。
func (h *AssistantHandler) UpdateAssistant(c *gin.Context) {
	var req model.UpdateAssistantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("UpdateAssistant: 无效的请求负载, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	assistant, err := h.assistantService.UpdateAssistant(c.Param("assistantId"), req)
	if err != nil {
		respondServiceError(c, "更新助手", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": assistant})
}

// DeleteAssistant 处理删除助手的请求，级联清理其全部数据。
func (h *AssistantHandler) DeleteAssistant(c *gin.Context) {
	assistantID := c.Param("assistantId")
	if err := h.assistantService.DeleteAssistant(c.Request.Context(), assistantID); err != nil {
		respondServiceError(c, "删除助手", err)
		return
	}

	log.Infof("助手已删除, id: %s", assistantID)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}
