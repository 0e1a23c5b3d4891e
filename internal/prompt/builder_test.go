package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vardast-go/internal/model"
)

func TestBuildFullPrompt(t *testing.T) {
	assistant := &model.Assistant{SystemPrompt: "你是一个乐于助人的助手。"}
	history := []model.Message{
		{Role: model.RoleUser, Content: "你好"},
		{Role: model.RoleAssistant, Content: "你好，有什么可以帮你？"},
	}
	chunks := []string{"第一段知识", "第二段知识"}

	got := Build(assistant, history, chunks, "介绍一下自己")

	want := strings.Join([]string{
		"System Instructions:\n你是一个乐于助人的助手。\n",
		"Relevant Knowledge Snippets:",
		"[1] 第一段知识",
		"[2] 第二段知识",
		"Conversation History:",
		"User: 你好",
		"Assistant: 你好，有什么可以帮你？",
		"User: 介绍一下自己",
		"Assistant:",
	}, "\n\n")
	assert.Equal(t, want, got)
}

func TestBuildOmitsEmptySections(t *testing.T) {
	assistant := &model.Assistant{}

	got := Build(assistant, nil, nil, "你好")

	assert.Equal(t, "User: 你好\n\nAssistant:", got)
	assert.NotContains(t, got, "System Instructions:")
	assert.NotContains(t, got, "Relevant Knowledge Snippets:")
	assert.NotContains(t, got, "Conversation History:")
}

func TestBuildHistoryWindow(t *testing.T) {
	assistant := &model.Assistant{}
	var history []model.Message
	for i := 0; i < HistoryWindow+5; i++ {
		history = append(history, model.Message{Role: model.RoleUser, Content: fmt.Sprintf("消息%d", i)})
	}

	got := Build(assistant, history, nil, "新消息")

	// 只保留最近 HistoryWindow 条：0~4 被截掉，5 及之后保留
	assert.NotContains(t, got, "User: 消息4")
	assert.Contains(t, got, "User: 消息5")
	assert.Contains(t, got, fmt.Sprintf("User: 消息%d", HistoryWindow+4))
	require.Equal(t, HistoryWindow, strings.Count(got, "User: 消息"))
}

func TestBuildDeterministic(t *testing.T) {
	assistant := &model.Assistant{SystemPrompt: "提示"}
	history := []model.Message{{Role: model.RoleUser, Content: "a"}}
	chunks := []string{"b"}

	first := Build(assistant, history, chunks, "c")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Build(assistant, history, chunks, "c"))
	}
}

func TestTitleRole(t *testing.T) {
	assert.Equal(t, "User", titleRole("user"))
	assert.Equal(t, "Assistant", titleRole("assistant"))
	assert.Equal(t, "", titleRole(""))
}
