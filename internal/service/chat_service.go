package service

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"vardast-go/internal/model"
	"vardast-go/internal/prompt"
	"vardast-go/internal/repository"
	"vardast-go/pkg/llm"
	"vardast-go/pkg/log"
)

// historyFetchLimit 是缓存未命中时从数据库读取的历史消息条数，
// 与缓存窗口保持一致，大于提示词窗口以便缓存能覆盖后续多轮。
const historyFetchLimit = 20

// ChatService 编排一轮完整的对话：解析会话、读历史、检索知识、
// 拼装提示词、调用大模型、原子落库本轮消息对。
type ChatService interface {
	// Chat 执行一轮对话。sessionID 为空时自动创建新会话。
	// 补全失败时不写入任何消息，会话状态保持调用前的样子。
	Chat(ctx context.Context, assistantID, sessionID, userMessage string) (*model.ChatResponse, error)
	// StreamTurn 以流式方式执行一轮对话，分块写入 writer。
	// 流式补全完整结束后才落库本轮消息对。
	StreamTurn(ctx context.Context, assistantID, sessionID, userMessage string, writer llm.MessageWriter) (*model.ChatResponse, error)
}

type chatService struct {
	assistantRepo repository.AssistantRepository
	sessionRepo   repository.SessionRepository
	historyCache  repository.HistoryCache // 可为 nil：未配置 Redis 时直接读数据库
	rag           RAGService
	llmClient     llm.Client
}

// NewChatService 创建一个新的 ChatService 实例。historyCache 允许为 nil。
func NewChatService(
	assistantRepo repository.AssistantRepository,
	sessionRepo repository.SessionRepository,
	historyCache repository.HistoryCache,
	rag RAGService,
	llmClient llm.Client,
) ChatService {
	return &chatService{
		assistantRepo: assistantRepo,
		sessionRepo:   sessionRepo,
		historyCache:  historyCache,
		rag:           rag,
		llmClient:     llmClient,
	}
}

// turnContext 是一轮对话在调用大模型之前准备好的全部材料。
type turnContext struct {
	assistant *model.Assistant
	session   *model.ConversationSession
	prompt    string
}

// Chat 执行一轮非流式对话。
func (s *chatService) Chat(ctx context.Context, assistantID, sessionID, userMessage string) (*model.ChatResponse, error) {
	turn, err := s.prepareTurn(ctx, assistantID, sessionID, userMessage)
	if err != nil {
		return nil, err
	}

	log.Infof("[ChatService] 步骤4: 调用大模型, session: %s", turn.session.ID)
	completion, err := s.llmClient.Complete(ctx, turn.prompt, nil)
	if err != nil {
		return nil, fmt.Errorf("大模型调用失败: %w", err)
	}
	log.Infof("[ChatService] 步骤5: 补全完成, session: %s, model: %s", turn.session.ID, completion.Model)

	return s.persistTurn(ctx, turn, userMessage, completion.Text)
}

// StreamTurn 执行一轮流式对话，补全分块直接写入 writer。
func (s *chatService) StreamTurn(ctx context.Context, assistantID, sessionID, userMessage string, writer llm.MessageWriter) (*model.ChatResponse, error) {
	turn, err := s.prepareTurn(ctx, assistantID, sessionID, userMessage)
	if err != nil {
		return nil, err
	}

	log.Infof("[ChatService] 步骤4: 流式调用大模型, session: %s", turn.session.ID)
	capture := &captureWriter{next: writer}
	if err := s.llmClient.StreamChat(ctx, turn.prompt, nil, capture); err != nil {
		return nil, fmt.Errorf("大模型流式调用失败: %w", err)
	}
	log.Infof("[ChatService] 步骤5: 流式补全完成, session: %s", turn.session.ID)

	// 流已完整送达客户端，落库不再受请求取消影响
	return s.persistTurn(context.Background(), turn, userMessage, capture.String())
}

// prepareTurn 完成补全之前的全部准备：助手与会话解析、历史读取、
// 语义检索、提示词拼装。
func (s *chatService) prepareTurn(ctx context.Context, assistantID, sessionID, userMessage string) (*turnContext, error) {
	assistant, err := s.assistantRepo.FindByID(assistantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssistantNotFound
		}
		return nil, err
	}

	log.Infof("[ChatService] 步骤1: 解析会话, assistant: %s", assistantID)
	session, err := s.resolveSession(assistantID, sessionID)
	if err != nil {
		return nil, err
	}

	log.Infof("[ChatService] 步骤2: 读取会话历史, session: %s", session.ID)
	history, err := s.loadHistory(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	log.Infof("[ChatService] 步骤3: 检索知识上下文, assistant: %s", assistantID)
	chunks, err := s.rag.RetrieveContext(ctx, assistantID, userMessage, 0)
	if err != nil {
		return nil, fmt.Errorf("检索知识上下文失败: %w", err)
	}

	return &turnContext{
		assistant: assistant,
		session:   session,
		prompt:    prompt.Build(assistant, history, chunks, userMessage),
	}, nil
}

// resolveSession 返回本轮使用的会话：sessionID 为空时新建，否则校验归属。
func (s *chatService) resolveSession(assistantID, sessionID string) (*model.ConversationSession, error) {
	if sessionID == "" {
		session := &model.ConversationSession{
			AssistantID: assistantID,
			Title:       DefaultSessionTitle,
		}
		if err := s.sessionRepo.Create(session); err != nil {
			return nil, fmt.Errorf("创建会话失败: %w", err)
		}
		return session, nil
	}

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
	return session, nil
}

// loadHistory 优先走缓存，未命中时读数据库并回填缓存。
func (s *chatService) loadHistory(ctx context.Context, sessionID string) ([]model.Message, error) {
	if s.historyCache != nil {
		if messages, ok := s.historyCache.Get(ctx, sessionID); ok {
			return messages, nil
		}
	}
	messages, err := s.sessionRepo.RecentMessages(sessionID, historyFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("读取会话历史失败: %w", err)
	}
	if s.historyCache != nil {
		s.historyCache.Set(ctx, sessionID, messages)
	}
	return messages, nil
}

// persistTurn 原子落库本轮的用户消息与助手回复，并返回完整响应。
func (s *chatService) persistTurn(ctx context.Context, turn *turnContext, userMessage, assistantMessage string) (*model.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	userMsg := model.Message{
		SessionID: turn.session.ID,
		Role:      model.RoleUser,
		Content:   userMessage,
	}
	assistantMsg := model.Message{
		SessionID: turn.session.ID,
		Role:      model.RoleAssistant,
		Content:   assistantMessage,
	}
	if err := s.sessionRepo.AppendPair(&userMsg, &assistantMsg); err != nil {
		return nil, fmt.Errorf("写入对话消息失败: %w", err)
	}
	if s.historyCache != nil {
		s.historyCache.AppendPair(ctx, turn.session.ID, userMsg, assistantMsg)
	}
	log.Infof("[ChatService] 步骤6: 本轮消息已落库, session: %s", turn.session.ID)

	return &model.ChatResponse{
		AssistantMessage: assistantMessage,
		Session:          *turn.session,
		Messages:         []model.Message{userMsg, assistantMsg},
	}, nil
}

// captureWriter 把透传给客户端的分块同时累积起来，供落库使用。
type captureWriter struct {
	next llm.MessageWriter
	buf  []byte
}

func (w *captureWriter) WriteMessage(messageType int, data []byte) error {
	w.buf = append(w.buf, data...)
	return w.next.WriteMessage(messageType, data)
}

func (w *captureWriter) String() string {
	return string(w.buf)
}
