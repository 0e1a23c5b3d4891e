package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gorm.io/gorm"

	"vardast-go/internal/model"
	"vardast-go/internal/repository"
	"vardast-go/pkg/log"
)

// DefaultSessionTitle 是创建会话时未提供标题的默认值。
const DefaultSessionTitle = "New Session"

// 文件下载链接的有效期。
const downloadURLExpiry = 15 * time.Minute

// DocumentArchive 是原始文档归档存储的能力抽象，由 pkg/storage 的 MinIO 实现满足。
type DocumentArchive interface {
	Put(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, objectName string) error
	PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

// TextExtractor 是从上传文件提取纯文本的能力抽象，由 pkg/tika 的客户端满足。
type TextExtractor interface {
	ExtractText(ctx context.Context, fileReader io.Reader, fileName string) (string, error)
}

// AssistantService 定义了助手及其知识文档、会话的管理操作。
type AssistantService interface {
	CreateAssistant(req model.CreateAssistantRequest) (*model.Assistant, error)
	ListAssistants() ([]model.Assistant, error)
	GetAssistant(id string) (*model.Assistant, error)
	UpdateAssistant(id string, req model.UpdateAssistantRequest) (*model.Assistant, error)
	// DeleteAssistant 删除助手并级联清理其文档、会话、消息、向量记录与归档对象。
	DeleteAssistant(ctx context.Context, id string) error

	// AddDocument 创建知识文档并立即入库。入库失败时文档仍被保留
	//（向量引用为空），之后可通过回填重试。
	AddDocument(ctx context.Context, assistantID string, req model.CreateDocumentRequest) (*model.KnowledgeDocument, error)
	// ImportDocumentFile 从上传的文件导入知识文档：归档原始文件（若启用）、
	// 提取纯文本、创建文档并入库。
	ImportDocumentFile(ctx context.Context, assistantID, fileName string, file io.Reader, contentType string) (*model.KnowledgeDocument, error)
	ListDocuments(assistantID string) ([]model.KnowledgeDocument, error)
	DeleteDocument(ctx context.Context, assistantID, documentID string) error
	// DocumentDownloadURL 为已归档的原始文件生成限时下载链接。
	DocumentDownloadURL(ctx context.Context, assistantID, documentID string) (string, error)

	CreateSession(assistantID, title string) (*model.ConversationSession, error)
	ListSessions(assistantID string) ([]model.ConversationSession, error)
	ListSessionMessages(assistantID, sessionID string) ([]model.Message, error)

	// Bootstrap 为助手回填所有尚未入库的文档。
	Bootstrap(ctx context.Context, assistantID string) error
}

type assistantService struct {
	assistantRepo repository.AssistantRepository
	docRepo       repository.DocumentRepository
	sessionRepo   repository.SessionRepository
	rag           RAGService
	archive       DocumentArchive // 可为 nil：未配置 MinIO 时禁用归档
	extractor     TextExtractor   // 可为 nil：未配置 Tika 时禁用文件导入
}

// NewAssistantService 创建一个新的 AssistantService 实例。
// archive 和 extractor 允许为 nil，对应能力按未启用处理。
func NewAssistantService(
	assistantRepo repository.AssistantRepository,
	docRepo repository.DocumentRepository,
	sessionRepo repository.SessionRepository,
	rag RAGService,
	archive DocumentArchive,
	extractor TextExtractor,
) AssistantService {
	return &assistantService{
		assistantRepo: assistantRepo,
		docRepo:       docRepo,
		sessionRepo:   sessionRepo,
		rag:           rag,
		archive:       archive,
		extractor:     extractor,
	}
}

// CreateAssistant 创建一个新助手。
func (s *assistantService) CreateAssistant(req model.CreateAssistantRequest) (*model.Assistant, error) {
	assistant := &model.Assistant{
		Name:         req.Name,
		Description:  req.Description,
		SystemPrompt: req.SystemPrompt,
	}
	if err := s.assistantRepo.Create(assistant); err != nil {
		return nil, fmt.Errorf("创建助手失败: %w", err)
	}
	return assistant, nil
}

// ListAssistants 按创建时间倒序返回全部助手。
func (s *assistantService) ListAssistants() ([]model.Assistant, error) {
	return s.assistantRepo.FindAll()
}

// GetAssistant 根据 ID 查找助手。
func (s *assistantService) GetAssistant(id string) (*model.Assistant, error) {
	assistant, err := s.assistantRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssistantNotFound
		}
		return nil, err
	}
	return assistant, nil
}

// UpdateAssistant 更新助手，未提供的字段保持原值。
func (s *assistantService) UpdateAssistant(id string, req model.UpdateAssistantRequest) (*model.Assistant, error) {
	assistant, err := s.GetAssistant(id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		assistant.Name = *req.Name
	}
	if req.Description != nil {
		assistant.Description = *req.Description
	}
	if req.SystemPrompt != nil {
		assistant.SystemPrompt = *req.SystemPrompt
	}
	if err := s.assistantRepo.Update(assistant); err != nil {
		return nil, fmt.Errorf("更新助手失败: %w", err)
	}
	return assistant, nil
}

// DeleteAssistant 级联删除助手的全部数据。
// 向量与归档清理失败只记录日志：数据库删除成功后索引中的残留记录
// 因归属过滤永远不会被检索到。
func (s *assistantService) DeleteAssistant(ctx context.Context, id string) error {
	if _, err := s.GetAssistant(id); err != nil {
		return err
	}

	docs, err := s.docRepo.FindByAssistant(id)
	if err != nil {
		return fmt.Errorf("查询助手文档失败: %w", err)
	}

	if err := s.assistantRepo.Delete(id); err != nil {
		return fmt.Errorf("删除助手失败: %w", err)
	}

	if err := s.rag.RemoveAssistantVectors(ctx, id); err != nil {
		log.Errorf("[AssistantService] 清理助手向量记录失败, assistant: %s, error: %v", id, err)
	}
	if s.archive != nil {
		for _, doc := range docs {
			if doc.ObjectName == "" {
				continue
			}
			if err := s.archive.Remove(ctx, doc.ObjectName); err != nil {
				log.Errorf("[AssistantService] 清理归档对象失败, object: %s, error: %v", doc.ObjectName, err)
			}
		}
	}
	return nil
}

// AddDocument 创建知识文档并尝试立即入库。
func (s *assistantService) AddDocument(ctx context.Context, assistantID string, req model.CreateDocumentRequest) (*model.KnowledgeDocument, error) {
	if _, err := s.GetAssistant(assistantID); err != nil {
		return nil, err
	}

	doc := &model.KnowledgeDocument{
		AssistantID: assistantID,
		Title:       req.Title,
		Content:     req.Content,
	}
	if err := s.docRepo.Create(doc); err != nil {
		return nil, fmt.Errorf("创建知识文档失败: %w", err)
	}

	// 入库失败不回滚文档：没有向量引用的文档不会被检索到，回填可以重试
	if err := s.rag.IngestDocument(ctx, doc); err != nil {
		log.Errorf("[AssistantService] 文档入库失败, document: %s, error: %v", doc.ID, err)
	}
	return doc, nil
}

// ImportDocumentFile 从上传的文件导入知识文档。
func (s *assistantService) ImportDocumentFile(ctx context.Context, assistantID, fileName string, file io.Reader, contentType string) (*model.KnowledgeDocument, error) {
	if s.extractor == nil {
		return nil, ErrExtractorDisabled
	}
	if _, err := s.GetAssistant(assistantID); err != nil {
		return nil, err
	}

	// 文件内容要同时用于归档和文本提取，先读入内存
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取上传文件失败: %w", err)
	}

	doc := &model.KnowledgeDocument{
		AssistantID: assistantID,
		Title:       fileName,
	}

	text, err := s.extractor.ExtractText(ctx, bytes.NewReader(data), fileName)
	if err != nil {
		return nil, fmt.Errorf("提取文件文本失败: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("文件 '%s' 未提取到任何文本", fileName)
	}
	doc.Content = text

	if s.archive != nil {
		objectName := fmt.Sprintf("knowledge/%s/%s", assistantID, fileName)
		if err := s.archive.Put(ctx, objectName, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
			log.Errorf("[AssistantService] 归档原始文件失败, object: %s, error: %v", objectName, err)
		} else {
			doc.ObjectName = objectName
		}
	}

	if err := s.docRepo.Create(doc); err != nil {
		return nil, fmt.Errorf("创建知识文档失败: %w", err)
	}
	if err := s.rag.IngestDocument(ctx, doc); err != nil {
		log.Errorf("[AssistantService] 文档入库失败, document: %s, error: %v", doc.ID, err)
	}
	return doc, nil
}

// ListDocuments 返回助手的全部知识文档。
func (s *assistantService) ListDocuments(assistantID string) ([]model.KnowledgeDocument, error) {
	if _, err := s.GetAssistant(assistantID); err != nil {
		return nil, err
	}
	return s.docRepo.FindByAssistant(assistantID)
}

// DeleteDocument 删除知识文档及其向量记录与归档对象。
func (s *assistantService) DeleteDocument(ctx context.Context, assistantID, documentID string) error {
	doc, err := s.getOwnedDocument(assistantID, documentID)
	if err != nil {
		return err
	}

	if err := s.rag.RemoveDocumentVector(ctx, doc); err != nil {
		return fmt.Errorf("删除向量记录失败: %w", err)
	}
	if s.archive != nil && doc.ObjectName != "" {
		if err := s.archive.Remove(ctx, doc.ObjectName); err != nil {
			log.Errorf("[AssistantService] 清理归档对象失败, object: %s, error: %v", doc.ObjectName, err)
		}
	}
	return s.docRepo.Delete(documentID)
}

// DocumentDownloadURL 为已归档的原始文件生成限时下载链接。
func (s *assistantService) DocumentDownloadURL(ctx context.Context, assistantID, documentID string) (string, error) {
	doc, err := s.getOwnedDocument(assistantID, documentID)
	if err != nil {
		return "", err
	}
	if s.archive == nil || doc.ObjectName == "" {
		return "", ErrArchiveDisabled
	}
	return s.archive.PresignedURL(ctx, doc.ObjectName, downloadURLExpiry)
}

// CreateSession 为助手创建会话，未提供标题时使用默认标题。
func (s *assistantService) CreateSession(assistantID, title string) (*model.ConversationSession, error) {
	if _, err := s.GetAssistant(assistantID); err != nil {
		return nil, err
	}
	if title == "" {
		title = DefaultSessionTitle
	}
	session := &model.ConversationSession{
		AssistantID: assistantID,
		Title:       title,
	}
	if err := s.sessionRepo.Create(session); err != nil {
		return nil, fmt.Errorf("创建会话失败: %w", err)
	}
	return session, nil
}

// ListSessions 返回助手的全部会话。
func (s *assistantService) ListSessions(assistantID string) ([]model.ConversationSession, error) {
	if _, err := s.GetAssistant(assistantID); err != nil {
		return nil, err
	}
	return s.sessionRepo.FindByAssistant(assistantID)
}

// ListSessionMessages 返回会话的全部消息（时间升序），校验会话归属。
func (s *assistantService) ListSessionMessages(assistantID, sessionID string) ([]model.Message, error) {
	session, err := s.sessionRepo.FindByID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if session.AssistantID != assistantID {
		return nil, ErrSessionNotOwned
	}
	return s.sessionRepo.ListMessages(sessionID)
}

// Bootstrap 校验助手存在后委托 RAG 流水线执行回填。
func (s *assistantService) Bootstrap(ctx context.Context, assistantID string) error {
	if _, err := s.GetAssistant(assistantID); err != nil {
		return err
	}
	return s.rag.Bootstrap(ctx, assistantID)
}

// getOwnedDocument 查找文档并校验归属。
func (s *assistantService) getOwnedDocument(assistantID, documentID string) (*model.KnowledgeDocument, error) {
	doc, err := s.docRepo.FindByID(documentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	if doc.AssistantID != assistantID {
		return nil, ErrDocumentNotOwned
	}
	return doc, nil
}
