package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vardast-go/internal/config"
	"vardast-go/internal/model"
	"vardast-go/internal/repository"
	"vardast-go/internal/service"
	"vardast-go/pkg/embedding"
	"vardast-go/pkg/llm"
)

// memoryIndex 是内存版向量索引，满足 service.VectorIndex。
type memoryIndex struct {
	mu   sync.Mutex
	docs map[string]model.IndexedDocument
}

func newMemoryIndex() *memoryIndex {
	return &memoryIndex{docs: make(map[string]model.IndexedDocument)}
}

func (m *memoryIndex) Upsert(ctx context.Context, assistantID, documentID string, vector []float32, payload model.DocumentPayload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[documentID] = model.IndexedDocument{
		DocumentID:  documentID,
		AssistantID: assistantID,
		Title:       payload.Title,
		Content:     payload.Content,
		Vector:      vector,
	}
	return documentID, nil
}

func (m *memoryIndex) Search(ctx context.Context, assistantID string, vector []float32, limit int) ([]model.SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []model.SearchHit
	for id, doc := range m.docs {
		if doc.AssistantID != assistantID || len(hits) >= limit {
			continue
		}
		hits = append(hits, model.SearchHit{
			Reference: id,
			Score:     0.9,
			Payload:   &model.DocumentPayload{AssistantID: doc.AssistantID, Title: doc.Title, Content: doc.Content},
		})
	}
	return hits, nil
}

func (m *memoryIndex) Delete(ctx context.Context, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, reference)
	return nil
}

func (m *memoryIndex) DeleteByAssistant(ctx context.Context, assistantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, doc := range m.docs {
		if doc.AssistantID == assistantID {
			delete(m.docs, id)
		}
	}
	return nil
}

// newTestRouter 用内存数据库、内存索引与离线模型客户端装配完整的 API。
func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Assistant{},
		&model.KnowledgeDocument{},
		&model.ConversationSession{},
		&model.Message{},
	))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})

	assistantRepo := repository.NewAssistantRepository(db)
	docRepo := repository.NewDocumentRepository(db)
	sessionRepo := repository.NewSessionRepository(db)

	// 离线模式：确定性向量与占位回复，无外部依赖
	embeddingClient := embedding.NewClient(config.EmbeddingConfig{Dimensions: 16})
	llmClient := llm.NewClient(config.LLMConfig{})
	rag := service.NewRAGService(embeddingClient, newMemoryIndex(), docRepo)
	assistantService := service.NewAssistantService(assistantRepo, docRepo, sessionRepo, rag, nil, nil)
	chatService := service.NewChatService(assistantRepo, sessionRepo, nil, rag, llmClient)

	assistantHandler := NewAssistantHandler(assistantService)
	knowledgeHandler := NewKnowledgeHandler(assistantService, nil)
	sessionHandler := NewSessionHandler(assistantService)
	chatHandler := NewChatHandler(chatService)

	r := gin.New()
	apiV1 := r.Group("/api/v1")
	{
		assistants := apiV1.Group("/assistants")
		{
			assistants.POST("", assistantHandler.CreateAssistant)
			assistants.GET("", assistantHandler.ListAssistants)
			assistants.GET("/:assistantId", assistantHandler.GetAssistant)
			assistants.PUT("/:assistantId", assistantHandler.UpdateAssistant)
			assistants.DELETE("/:assistantId", assistantHandler.DeleteAssistant)

			assistants.POST("/:assistantId/documents", knowledgeHandler.AddDocument)
			assistants.POST("/:assistantId/documents/upload", knowledgeHandler.UploadDocument)
			assistants.GET("/:assistantId/documents", knowledgeHandler.ListDocuments)
			assistants.DELETE("/:assistantId/documents/:documentId", knowledgeHandler.DeleteDocument)
			assistants.POST("/:assistantId/bootstrap", knowledgeHandler.Bootstrap)

			assistants.POST("/:assistantId/sessions", sessionHandler.CreateSession)
			assistants.GET("/:assistantId/sessions", sessionHandler.ListSessions)
			assistants.GET("/:assistantId/sessions/:sessionId/messages", sessionHandler.ListMessages)
		}

		chat := apiV1.Group("/chat")
		{
			chat.POST("/assistants/:assistantId", chatHandler.ChatWithAssistant)
			chat.POST("/assistants/:assistantId/sessions/:sessionId", chatHandler.ChatInSession)
		}
	}
	return r
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// envelope 解析统一响应包装中的 data 字段。
func envelope(t *testing.T, w *httptest.ResponseRecorder, data interface{}) {
	t.Helper()
	var resp struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	if data != nil && len(resp.Data) > 0 && string(resp.Data) != "null" {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
}

func createTestAssistant(t *testing.T, router *gin.Engine) model.Assistant {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/v1/assistants", gin.H{
		"name":          "测试助手",
		"description":   "测试用",
		"system_prompt": "你是测试助手。",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var assistant model.Assistant
	envelope(t, w, &assistant)
	require.NotEmpty(t, assistant.ID)
	return assistant
}

func TestAssistantLifecycle(t *testing.T) {
	router := newTestRouter(t)

	assistant := createTestAssistant(t, router)

	// 列表包含新建的助手
	w := doJSON(t, router, http.MethodGet, "/api/v1/assistants", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var assistants []model.Assistant
	envelope(t, w, &assistants)
	require.Len(t, assistants, 1)

	// 部分更新
	w = doJSON(t, router, http.MethodPut, "/api/v1/assistants/"+assistant.ID, gin.H{"name": "改名后的助手"})
	require.Equal(t, http.StatusOK, w.Code)
	var updated model.Assistant
	envelope(t, w, &updated)
	assert.Equal(t, "改名后的助手", updated.Name)
	assert.Equal(t, "你是测试助手。", updated.SystemPrompt)

	// 删除后详情返回 404
	w = doJSON(t, router, http.MethodDelete, "/api/v1/assistants/"+assistant.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, router, http.MethodGet, "/api/v1/assistants/"+assistant.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAssistantValidation(t *testing.T) {
	router := newTestRouter(t)

	// 缺少必填的 name
	w := doJSON(t, router, http.MethodPost, "/api/v1/assistants", gin.H{"description": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/assistants/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKnowledgeDocumentFlow(t *testing.T) {
	router := newTestRouter(t)
	assistant := createTestAssistant(t, router)

	w := doJSON(t, router, http.MethodPost, "/api/v1/assistants/"+assistant.ID+"/documents", gin.H{
		"title":   "退款政策",
		"content": "三十天内可无理由退款。",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var doc model.KnowledgeDocument
	envelope(t, w, &doc)
	assert.NotEmpty(t, doc.ID)
	// 离线环境下入库立即完成
	assert.NotNil(t, doc.VectorID)

	w = doJSON(t, router, http.MethodGet, "/api/v1/assistants/"+assistant.ID+"/documents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var docs []model.KnowledgeDocument
	envelope(t, w, &docs)
	require.Len(t, docs, 1)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/assistants/"+assistant.ID+"/documents/"+doc.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, router, http.MethodGet, "/api/v1/assistants/"+assistant.ID+"/documents", nil)
	envelope(t, w, &docs)
	assert.Empty(t, docs)
}

func TestKnowledgeDocumentOwnership(t *testing.T) {
	router := newTestRouter(t)
	owner := createTestAssistant(t, router)
	other := createTestAssistant(t, router)

	w := doJSON(t, router, http.MethodPost, "/api/v1/assistants/"+owner.ID+"/documents", gin.H{
		"title": "t", "content": "c",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var doc model.KnowledgeDocument
	envelope(t, w, &doc)

	// 其他助手无法删除不属于它的文档
	w = doJSON(t, router, http.MethodDelete, "/api/v1/assistants/"+other.ID+"/documents/"+doc.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadDocumentWithoutExtractor(t *testing.T) {
	router := newTestRouter(t)
	assistant := createTestAssistant(t, router)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "a.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("内容"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/assistants/"+assistant.ID+"/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// 未配置文本提取服务时文件导入不可用
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestBootstrapSynchronous(t *testing.T) {
	router := newTestRouter(t)
	assistant := createTestAssistant(t, router)

	// 未配置消息队列时同步执行并返回 200
	w := doJSON(t, router, http.MethodPost, "/api/v1/assistants/"+assistant.ID+"/bootstrap", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/assistants/no-such-id/bootstrap", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatTurnCreatesSessionAndTranscript(t *testing.T) {
	router := newTestRouter(t)
	assistant := createTestAssistant(t, router)

	// 先放一份知识
	w := doJSON(t, router, http.MethodPost, "/api/v1/assistants/"+assistant.ID+"/documents", gin.H{
		"title": "政策", "content": "退款期限三十天",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// 新会话里对话一轮
	w = doJSON(t, router, http.MethodPost, "/api/v1/chat/assistants/"+assistant.ID, gin.H{
		"user_message": "退款期限是多久？",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp model.ChatResponse
	envelope(t, w, &resp)

	// 离线模式返回占位回复
	assert.Equal(t, llm.OfflineResponse, resp.AssistantMessage)
	assert.Equal(t, assistant.ID, resp.Session.AssistantID)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, model.RoleUser, resp.Messages[0].Role)
	assert.Equal(t, "退款期限是多久？", resp.Messages[0].Content)

	// 同一会话再来一轮
	w = doJSON(t, router, http.MethodPost,
		"/api/v1/chat/assistants/"+assistant.ID+"/sessions/"+resp.Session.ID, gin.H{
			"user_message": "继续",
		})
	require.Equal(t, http.StatusOK, w.Code)

	// 完整转写包含两轮四条消息，角色交替
	w = doJSON(t, router, http.MethodGet,
		"/api/v1/assistants/"+assistant.ID+"/sessions/"+resp.Session.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var messages []model.Message
	envelope(t, w, &messages)
	require.Len(t, messages, 4)
	assert.Equal(t, model.RoleUser, messages[0].Role)
	assert.Equal(t, model.RoleAssistant, messages[1].Role)
	assert.Equal(t, model.RoleUser, messages[2].Role)
	assert.Equal(t, model.RoleAssistant, messages[3].Role)
}

func TestChatValidation(t *testing.T) {
	router := newTestRouter(t)
	assistant := createTestAssistant(t, router)

	// 缺少 user_message
	w := doJSON(t, router, http.MethodPost, "/api/v1/chat/assistants/"+assistant.ID, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 不存在的助手
	w = doJSON(t, router, http.MethodPost, "/api/v1/chat/assistants/no-such-id", gin.H{"user_message": "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 属于别的助手的会话
	other := createTestAssistant(t, router)
	w = doJSON(t, router, http.MethodPost, "/api/v1/assistants/"+other.ID+"/sessions", gin.H{"title": "x"})
	require.Equal(t, http.StatusCreated, w.Code)
	var session model.ConversationSession
	envelope(t, w, &session)

	w = doJSON(t, router, http.MethodPost,
		"/api/v1/chat/assistants/"+assistant.ID+"/sessions/"+session.ID, gin.H{"user_message": "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionEndpoints(t *testing.T) {
	router := newTestRouter(t)
	assistant := createTestAssistant(t, router)

	// 省略请求体时使用默认标题
	req := httptest.NewRequest(http.MethodPost, "/api/v1/assistants/"+assistant.ID+"/sessions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
	var session model.ConversationSession
	envelope(t, w, &session)
	assert.Equal(t, service.DefaultSessionTitle, session.Title)

	w = doJSON(t, router, http.MethodGet, "/api/v1/assistants/"+assistant.ID+"/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sessions []model.ConversationSession
	envelope(t, w, &sessions)
	assert.Len(t, sessions, 1)
}
