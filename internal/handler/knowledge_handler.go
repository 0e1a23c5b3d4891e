package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"vardast-go/internal/model"
	"vardast-go/internal/service"
	"vardast-go/pkg/kafka"
	"vardast-go/pkg/log"
	"vardast-go/pkg/tasks"
)

// KnowledgeHandler 负责知识文档的管理 API：录入、文件导入、下载、删除与回填。
type KnowledgeHandler struct {
	assistantService service.AssistantService
	producer         *kafka.Producer // 可为 nil：未配置 Kafka 时回填同步执行
}

// NewKnowledgeHandler 创建一个新的 KnowledgeHandler 实例。producer 允许为 nil。
func NewKnowledgeHandler(assistantService service.AssistantService, producer *kafka.Producer) *KnowledgeHandler {
	return &KnowledgeHandler{assistantService: assistantService, producer: producer}
}

// AddDocument 处理以 JSON 正文直接录入知识文档的请求。
func (h *KnowledgeHandler) AddDocument(c *gin.Context) {
	var req model.CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("AddDocument: 无效的请求负载, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	doc, err := h.assistantService.AddDocument(c.Request.Context(), c.Param("assistantId"), req)
	if err != nil {
		respondServiceError(c, "录入知识文档", err)
		return
	}

	log.Infof("知识文档已录入, document: %s, assistant: %s", doc.ID, doc.AssistantID)
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "success", "data": doc})
}

// UploadDocument 处理以 multipart 文件上传导入知识文档的请求。
func (h *KnowledgeHandler) UploadDocument(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少上传文件", "data": nil})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Error("UploadDocument: 打开上传文件失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "读取上传文件失败", "data": nil})
		return
	}
	defer file.Close()

	doc, err := h.assistantService.ImportDocumentFile(
		c.Request.Context(),
		c.Param("assistantId"),
		fileHeader.Filename,
		file,
		fileHeader.Header.Get("Content-Type"),
	)
	if err != nil {
		respondServiceError(c, "导入知识文档", err)
		return
	}

	log.Infof("知识文档已导入, document: %s, file: %s", doc.ID, fileHeader.Filename)
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "success", "data": doc})
}

// ListDocuments 处理获取助手知识文档列表的请求。
func (h *KnowledgeHandler) ListDocuments(c *gin.Context) {
	docs, err := h.assistantService.ListDocuments(c.Param("assistantId"))
	if err != nil {
		respondServiceError(c, "获取知识文档列表", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": docs})
}

// DownloadDocument 返回原始文件的限时下载链接。
func (h *KnowledgeHandler) DownloadDocument(c *gin.Context) {
	url, err := h.assistantService.DocumentDownloadURL(c.Request.Context(), c.Param("assistantId"), c.Param("documentId"))
	if err != nil {
		respondServiceError(c, "生成下载链接", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"url": url}})
}

// DeleteDocument 处理删除知识文档的请求。
func (h *KnowledgeHandler) DeleteDocument(c *gin.Context) {
	if err := h.assistantService.DeleteDocument(c.Request.Context(), c.Param("assistantId"), c.Param("documentId")); err != nil {
		respondServiceError(c, "删除知识文档", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}

// Bootstrap 为助手回填全部未入库的文档。
// 配置了 Kafka 时投递异步任务并返回 202，否则同步执行后返回 200。
func (h *KnowledgeHandler) Bootstrap(c *gin.Context) {
	assistantID := c.Param("assistantId")

	// 先校验助手存在，避免给不存在的助手排队任务
	if _, err := h.assistantService.GetAssistant(assistantID); err != nil {
		respondServiceError(c, "回填知识文档", err)
		return
	}

	if h.producer != nil {
		task := tasks.BootstrapTask{AssistantID: assistantID}
		if err := h.producer.ProduceBootstrapTask(c.Request.Context(), task); err != nil {
			log.Error("Bootstrap: 投递回填任务失败", err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "投递回填任务失败", "data": nil})
			return
		}
		log.Infof("回填任务已投递, assistant: %s", assistantID)
		c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "回填任务已接受", "data": nil})
		return
	}

	if err := h.assistantService.Bootstrap(c.Request.Context(), assistantID); err != nil {
		respondServiceError(c, "回填知识文档", err)
		return
	}
	log.Infof("回填已完成, assistant: %s", assistantID)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}
