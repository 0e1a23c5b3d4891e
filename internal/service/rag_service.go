package service

import (
	"context"
	"fmt"

	"vardast-go/internal/model"
	"vardast-go/internal/repository"
	"vardast-go/pkg/embedding"
	"vardast-go/pkg/log"
)

// 写入索引的内容预览上限（按 rune 计），控制索引载荷大小。
const payloadPreviewLimit = 1500

// 检索返回的默认片段数。
const defaultRetrieveLimit = 5

// VectorIndex 是 RAG 流水线需要的向量索引能力抽象。
// 由 pkg/vectorindex 的 Elasticsearch 客户端实现，测试中可替换为内存实现。
type VectorIndex interface {
	Upsert(ctx context.Context, assistantID, documentID string, vector []float32, payload model.DocumentPayload) (string, error)
	Search(ctx context.Context, assistantID string, vector []float32, limit int) ([]model.SearchHit, error)
	Delete(ctx context.Context, reference string) error
	DeleteByAssistant(ctx context.Context, assistantID string) error
}

// RAGService 编排文档入库（向量化+写入索引）与查询时的语义检索。
type RAGService interface {
	// IngestDocument 向量化文档全文并写入索引，成功后把向量引用记录到文档上。
	// 可安全重试：重复入库会更新而不是追加索引记录。
	IngestDocument(ctx context.Context, doc *model.KnowledgeDocument) error
	// RetrieveContext 返回与查询语义相关的上下文片段，限定在指定助手的知识范围内。
	// 无命中返回空列表；只有真正的基础设施失败才返回错误。
	RetrieveContext(ctx context.Context, assistantID, query string, limit int) ([]string, error)
	// Bootstrap 为助手回填所有尚未入库的文档。单个文档失败只记录日志并继续，
	// 这是整个系统中唯一有意吞掉失败的地方：回填的契约是尽力推进而非全有全无。
	Bootstrap(ctx context.Context, assistantID string) error
	// RemoveDocumentVector 删除文档在索引中的记录（若存在）。
	RemoveDocumentVector(ctx context.Context, doc *model.KnowledgeDocument) error
	// RemoveAssistantVectors 删除助手的全部索引记录，供级联删除使用。
	RemoveAssistantVectors(ctx context.Context, assistantID string) error
}

type ragService struct {
	embeddingClient embedding.Client
	index           VectorIndex
	docRepo         repository.DocumentRepository
}

// NewRAGService 创建一个新的 RAGService 实例。
func NewRAGService(embeddingClient embedding.Client, index VectorIndex, docRepo repository.DocumentRepository) RAGService {
	return &ragService{
		embeddingClient: embeddingClient,
		index:           index,
		docRepo:         docRepo,
	}
}

// IngestDocument 入库单个文档：向量化 -> 写入索引 -> 记录向量引用。
func (s *ragService) IngestDocument(ctx context.Context, doc *model.KnowledgeDocument) error {
	log.Infof("[RAGService] 开始入库文档, document: %s, assistant: %s", doc.ID, doc.AssistantID)

	vectors, err := s.embeddingClient.CreateEmbeddings(ctx, []string{doc.Content})
	if err != nil {
		return fmt.Errorf("文档向量化失败: %w", err)
	}

	payload := model.DocumentPayload{
		AssistantID: doc.AssistantID,
		Title:       doc.Title,
		Content:     truncateRunes(doc.Content, payloadPreviewLimit),
	}
	vectorID, err := s.index.Upsert(ctx, doc.AssistantID, doc.ID, vectors[0], payload)
	if err != nil {
		return fmt.Errorf("写入向量索引失败: %w", err)
	}

	if err := s.docRepo.UpdateVectorID(doc.ID, vectorID); err != nil {
		return fmt.Errorf("记录向量引用失败: %w", err)
	}
	doc.VectorID = &vectorID

	log.Infof("[RAGService] 文档入库成功, document: %s, reference: %s", doc.ID, vectorID)
	return nil
}

// RetrieveContext 向量化查询并在助手范围内检索，抽取命中载荷中的内容字段。
func (s *ragService) RetrieveContext(ctx context.Context, assistantID, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = defaultRetrieveLimit
	}

	vectors, err := s.embeddingClient.CreateEmbeddings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}

	hits, err := s.index.Search(ctx, assistantID, vectors[0], limit)
	if err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}

	contexts := make([]string, 0, len(hits))
	for _, hit := range hits {
		// 没有载荷的命中无法提供上下文，跳过
		if hit.Payload == nil {
			continue
		}
		contexts = append(contexts, hit.Payload.Content)
	}
	log.Infof("[RAGService] 检索完成, assistant: %s, 命中 %d 条", assistantID, len(contexts))
	return contexts, nil
}

// Bootstrap 扫描助手名下所有未入库的文档并逐个入库，尽力推进。
func (s *ragService) Bootstrap(ctx context.Context, assistantID string) error {
	docs, err := s.docRepo.FindUningested(assistantID)
	if err != nil {
		return fmt.Errorf("查询未入库文档失败: %w", err)
	}
	log.Infof("[RAGService] 回填开始, assistant: %s, 待入库文档: %d", assistantID, len(docs))

	for i := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.IngestDocument(ctx, &docs[i]); err != nil {
			log.Errorf("[RAGService] 回填文档失败, document: %s, error: %v", docs[i].ID, err)
			continue
		}
	}
	return nil
}

// RemoveDocumentVector 删除文档对应的索引记录，未入库的文档为空操作。
func (s *ragService) RemoveDocumentVector(ctx context.Context, doc *model.KnowledgeDocument) error {
	if doc.VectorID == nil {
		return nil
	}
	return s.index.Delete(ctx, *doc.VectorID)
}

// RemoveAssistantVectors 删除助手的全部索引记录。
func (s *ragService) RemoveAssistantVectors(ctx context.Context, assistantID string) error {
	return s.index.DeleteByAssistant(ctx, assistantID)
}

// truncateRunes 按 rune 截断文本，避免截出非法的 UTF-8 序列。
func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
