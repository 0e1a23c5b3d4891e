// Package repository 提供了数据访问层的实现。
package repository

import (
	"vardast-go/internal/model"

	"gorm.io/gorm"
)

// AssistantRepository 定义了对 assistants 表的数据操作接口。
type AssistantRepository interface {
	Create(assistant *model.Assistant) error
	FindAll() ([]model.Assistant, error)
	FindByID(id string) (*model.Assistant, error)
	Update(assistant *model.Assistant) error
	// Delete 删除助手并级联删除其知识文档、会话与消息。
	Delete(id string) error
}

type assistantRepository struct {
	db *gorm.DB
}

// NewAssistantRepository 创建一个新的 AssistantRepository 实例。
func NewAssistantRepository(db *gorm.DB) AssistantRepository {
	return &assistantRepository{db: db}
}

// Create 创建一条助手记录。
func (r *assistantRepository) Create(assistant *model.Assistant) error {
	return r.db.Create(assistant).Error
}

// FindAll 按创建时间倒序返回全部助手。
func (r *assistantRepository) FindAll() ([]model.Assistant, error) {
	var assistants []model.Assistant
	err := r.db.Order("created_at DESC").Find(&assistants).Error
	return assistants, err
}

// FindByID 根据主键查找助手，未找到时返回 gorm.ErrRecordNotFound。
func (r *assistantRepository) FindByID(id string) (*model.Assistant, error) {
	var assistant model.Assistant
	if err := r.db.First(&assistant, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &assistant, nil
}

// Update 保存助手的全部字段。
func (r *assistantRepository) Update(assistant *model.Assistant) error {
	return r.db.Save(assistant).Error
}

// Delete 在单个事务内删除助手及其全部下属实体。
func (r *assistantRepository) Delete(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		sessionIDs := tx.Model(&model.ConversationSession{}).
			Select("id").Where("assistant_id = ?", id)
		if err := tx.Where("session_id IN (?)", sessionIDs).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("assistant_id = ?", id).Delete(&model.ConversationSession{}).Error; err != nil {
			return err
		}
		if err := tx.Where("assistant_id = ?", id).Delete(&model.KnowledgeDocument{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Assistant{}, "id = ?", id).Error
	})
}
