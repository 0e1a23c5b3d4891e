package model

// CreateAssistantRequest 创建助手的请求体。
type CreateAssistantRequest struct {
	Name         string `json:"name" binding:"required,max=200"`
	Description  string `json:"description"`
	SystemPrompt string `json:"system_prompt"`
}

// UpdateAssistantRequest 更新助手的请求体，未出现的字段保持原值。
type UpdateAssistantRequest struct {
	Name         *string `json:"name" binding:"omitempty,max=200"`
	Description  *string `json:"description"`
	SystemPrompt *string `json:"system_prompt"`
}

// CreateDocumentRequest 创建知识文档的请求体。
type CreateDocumentRequest struct {
	Title   string `json:"title" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// CreateSessionRequest 创建会话的请求体，标题可选。
type CreateSessionRequest struct {
	Title string `json:"title"`
}

// ChatTurnRequest 一轮对话的请求体。
type ChatTurnRequest struct {
	UserMessage string `json:"user_message" binding:"required"`
}

// ChatResponse 一轮对话的响应：助手回复、会话当前状态、本轮新增的两条消息。
type ChatResponse struct {
	AssistantMessage string              `json:"assistant_message"`
	Session          ConversationSession `json:"session"`
	Messages         []Message           `json:"messages"`
}
