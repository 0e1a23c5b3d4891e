package repository

import (
	"vardast-go/internal/model"

	"gorm.io/gorm"
)

// DocumentRepository 定义了对 knowledge_documents 表的数据操作接口。
type DocumentRepository interface {
	Create(doc *model.KnowledgeDocument) error
	FindByID(id string) (*model.KnowledgeDocument, error)
	FindByAssistant(assistantID string) ([]model.KnowledgeDocument, error)
	// FindUningested 返回某助手下尚未写入向量索引的文档。
	FindUningested(assistantID string) ([]model.KnowledgeDocument, error)
	UpdateVectorID(id, vectorID string) error
	Delete(id string) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 创建一条知识文档记录。
func (r *documentRepository) Create(doc *model.KnowledgeDocument) error {
	return r.db.Create(doc).Error
}

// FindByID 根据主键查找文档，未找到时返回 gorm.ErrRecordNotFound。
func (r *documentRepository) FindByID(id string) (*model.KnowledgeDocument, error) {
	var doc model.KnowledgeDocument
	if err := r.db.First(&doc, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByAssistant 按创建时间返回某助手的全部文档。
func (r *documentRepository) FindByAssistant(assistantID string) ([]model.KnowledgeDocument, error) {
	var docs []model.KnowledgeDocument
	err := r.db.Where("assistant_id = ?", assistantID).Order("created_at ASC").Find(&docs).Error
	return docs, err
}

// FindUningested 返回 vector_id 为空的文档，供回填流程使用。
func (r *documentRepository) FindUningested(assistantID string) ([]model.KnowledgeDocument, error) {
	var docs []model.KnowledgeDocument
	err := r.db.Where("assistant_id = ? AND vector_id IS NULL", assistantID).
		Order("created_at ASC").Find(&docs).Error
	return docs, err
}

// UpdateVectorID 记录文档在向量索引中的引用。
func (r *documentRepository) UpdateVectorID(id, vectorID string) error {
	return r.db.Model(&model.KnowledgeDocument{}).Where("id = ?", id).
		Update("vector_id", vectorID).Error
}

// Delete 删除一条文档记录。
func (r *documentRepository) Delete(id string) error {
	return r.db.Delete(&model.KnowledgeDocument{}, "id = ?", id).Error
}
