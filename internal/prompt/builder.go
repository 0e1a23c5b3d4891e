// Package prompt 负责把系统指令、检索片段与会话历史拼装成单个提示词。
package prompt

import (
	"fmt"
	"strings"

	"vardast-go/internal/model"
)

// HistoryWindow 是拼入提示词的历史消息条数上限（取最近的若干条）。
const HistoryWindow = 10

// Build 以固定顺序拼装提示词：系统指令、编号的知识片段、历史转写、
// 新的用户消息、标记助手回复起点的收尾提示。
// 纯函数：无随机性、无副作用，相同输入永远产生逐字节相同的输出。
func Build(assistant *model.Assistant, history []model.Message, contextChunks []string, userMessage string) string {
	var segments []string

	if assistant.SystemPrompt != "" {
		segments = append(segments, fmt.Sprintf("System Instructions:\n%s\n", assistant.SystemPrompt))
	}

	if len(contextChunks) > 0 {
		segments = append(segments, "Relevant Knowledge Snippets:")
		for i, chunk := range contextChunks {
			segments = append(segments, fmt.Sprintf("[%d] %s", i+1, chunk))
		}
	}

	if len(history) > 0 {
		window := history
		if len(window) > HistoryWindow {
			window = window[len(window)-HistoryWindow:]
		}
		segments = append(segments, "Conversation History:")
		for _, message := range window {
			segments = append(segments, fmt.Sprintf("%s: %s", titleRole(message.Role), message.Content))
		}
	}

	segments = append(segments, fmt.Sprintf("User: %s", userMessage))
	segments = append(segments, "Assistant:")

	return strings.Join(segments, "\n\n")
}

// titleRole 把角色名首字母大写，例如 "user" -> "User"。
func titleRole(role string) string {
	if role == "" {
		return role
	}
	return strings.ToUpper(role[:1]) + role[1:]
}
