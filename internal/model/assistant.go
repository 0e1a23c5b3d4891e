// Package model 包含了应用的数据模型定义。
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Assistant 代表一个独立的智能助手配置，拥有自己的指令、知识库与会话。
type Assistant struct {
	ID           string    `gorm:"type:char(36);primaryKey" json:"id"`
	Name         string    `gorm:"type:varchar(200);not null" json:"name"`
	Description  string    `gorm:"type:text" json:"description"`
	SystemPrompt string    `gorm:"type:text" json:"system_prompt"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Assistant) TableName() string {
	return "assistants"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (a *Assistant) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// KnowledgeDocument 是归属于某个助手的知识文档。
// VectorID 为空表示该文档从未成功写入向量索引，检索时绝不能出现。
type KnowledgeDocument struct {
	ID          string    `gorm:"type:char(36);primaryKey" json:"id"`
	AssistantID string    `gorm:"type:char(36);not null;index" json:"assistant_id"`
	Title       string    `gorm:"type:varchar(255);not null" json:"title"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	VectorID    *string   `gorm:"type:varchar(128)" json:"vector_id"`
	ObjectName  string    `gorm:"type:varchar(255)" json:"-"` // MinIO 归档对象名，未归档则为空
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (KnowledgeDocument) TableName() string {
	return "knowledge_documents"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (d *KnowledgeDocument) BeforeCreate(*gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// ConversationSession 是归属于某个助手的一段对话。
type ConversationSession struct {
	ID          string    `gorm:"type:char(36);primaryKey" json:"id"`
	AssistantID string    `gorm:"type:char(36);not null;index" json:"assistant_id"`
	Title       string    `gorm:"type:varchar(255);not null" json:"title"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ConversationSession) TableName() string {
	return "conversation_sessions"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (s *ConversationSession) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// 消息角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 是会话内的一条消息，创建后不可变。
// 消息按创建时间排序即为对话顺序，且总是以 user/assistant 成对出现。
type Message struct {
	ID        string    `gorm:"type:char(36);primaryKey" json:"id"`
	SessionID string    `gorm:"type:char(36);not null;index" json:"session_id"`
	Role      string    `gorm:"type:varchar(20);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
