package repository

import (
	"time"

	"vardast-go/internal/model"

	"gorm.io/gorm"
)

// SessionRepository 定义了对会话与消息的数据操作接口。
// 消息只能通过 AppendPair 成对写入：单条悬空消息不允许存在。
type SessionRepository interface {
	Create(session *model.ConversationSession) error
	FindByID(id string) (*model.ConversationSession, error)
	FindByAssistant(assistantID string) ([]model.ConversationSession, error)
	// ListMessages 按时间顺序返回会话的全部消息。
	ListMessages(sessionID string) ([]model.Message, error)
	// RecentMessages 按时间顺序返回会话最近的 limit 条消息。
	RecentMessages(sessionID string, limit int) ([]model.Message, error)
	// AppendPair 在单个事务内追加一条用户消息和一条助手消息。
	AppendPair(userMsg, assistantMsg *model.Message) error
}

type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// Create 创建一条会话记录。
func (r *sessionRepository) Create(session *model.ConversationSession) error {
	return r.db.Create(session).Error
}

// FindByID 根据主键查找会话，未找到时返回 gorm.ErrRecordNotFound。
func (r *sessionRepository) FindByID(id string) (*model.ConversationSession, error) {
	var session model.ConversationSession
	if err := r.db.First(&session, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// FindByAssistant 按创建时间返回某助手的全部会话。
func (r *sessionRepository) FindByAssistant(assistantID string) ([]model.ConversationSession, error) {
	var sessions []model.ConversationSession
	err := r.db.Where("assistant_id = ?", assistantID).Order("created_at ASC").Find(&sessions).Error
	return sessions, err
}

// ListMessages 按创建时间升序返回会话的全部消息。
func (r *sessionRepository) ListMessages(sessionID string) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.Where("session_id = ?", sessionID).
		Order("created_at ASC, role DESC").Find(&messages).Error
	return messages, err
}

// RecentMessages 返回会话最近的 limit 条消息，结果仍为时间升序。
func (r *sessionRepository) RecentMessages(sessionID string, limit int) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.Where("session_id = ?", sessionID).
		Order("created_at DESC, role ASC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	// 翻转为时间升序
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// AppendPair 原子地追加一轮对话的两条消息。
// 助手消息的时间戳被推后一毫秒，保证按时间排序时稳定排在用户消息之后。
func (r *sessionRepository) AppendPair(userMsg, assistantMsg *model.Message) error {
	now := time.Now()
	userMsg.CreatedAt = now
	assistantMsg.CreatedAt = now.Add(time.Millisecond)
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(userMsg).Error; err != nil {
			return err
		}
		return tx.Create(assistantMsg).Error
	})
}
