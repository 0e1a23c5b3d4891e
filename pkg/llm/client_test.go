package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vardast-go/internal/config"
)

// recordWriter 收集流式分块，供断言使用。
type recordWriter struct {
	chunks []string
}

func (w *recordWriter) WriteMessage(messageType int, data []byte) error {
	w.chunks = append(w.chunks, string(data))
	return nil
}

func completionBody(content string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
	})
	return string(b)
}

func TestCompleteOffline(t *testing.T) {
	client := NewClient(config.LLMConfig{})

	completion, err := client.Complete(context.Background(), "任意提示词", nil)
	require.NoError(t, err)
	assert.Equal(t, OfflineResponse, completion.Text)
	assert.Equal(t, "offline", completion.Model)
}

func TestCompletePrimarySucceeds(t *testing.T) {
	var gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel = req.Model
		fmt.Fprint(w, completionBody("主模型的回答"))
	}))
	defer server.Close()

	client := NewClient(config.LLMConfig{
		APIKey:        "k",
		BaseURL:       server.URL,
		Model:         "primary",
		FallbackModel: "backup",
	})

	completion, err := client.Complete(context.Background(), "你好", nil)
	require.NoError(t, err)
	assert.Equal(t, "主模型的回答", completion.Text)
	assert.Equal(t, "primary", completion.Model)
	assert.Equal(t, "primary", gotModel)
}

func TestCompleteFallsBackOnPrimaryFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Model == "primary" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, completionBody("备用模型的回答"))
	}))
	defer server.Close()

	client := NewClient(config.LLMConfig{
		APIKey:        "k",
		BaseURL:       server.URL,
		Model:         "primary",
		FallbackModel: "backup",
	})

	completion, err := client.Complete(context.Background(), "你好", nil)
	require.NoError(t, err)
	assert.Equal(t, "备用模型的回答", completion.Text)
	assert.Equal(t, "backup", completion.Model)
}

func TestCompleteNoFallbackWhenSameModel(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(config.LLMConfig{
		APIKey:        "k",
		BaseURL:       server.URL,
		Model:         "same",
		FallbackModel: "same",
	})

	_, err := client.Complete(context.Background(), "你好", nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestCompleteBothModelsFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(config.LLMConfig{
		APIKey:        "k",
		BaseURL:       server.URL,
		Model:         "primary",
		FallbackModel: "backup",
	})

	_, err := client.Complete(context.Background(), "你好", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fallback model backup failed")
}

func TestStreamChatOffline(t *testing.T) {
	client := NewClient(config.LLMConfig{})
	writer := &recordWriter{}

	err := client.StreamChat(context.Background(), "你好", nil, writer)
	require.NoError(t, err)
	require.Len(t, writer.chunks, 1)
	assert.Equal(t, OfflineResponse, writer.chunks[0])
}

func TestStreamChatParsesSSE(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"你\"}}]}\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"好\"}}]}\n")
		fmt.Fprint(w, "data: [DONE]\n")
	}))
	defer server.Close()

	client := NewClient(config.LLMConfig{APIKey: "k", BaseURL: server.URL, Model: "m"})
	writer := &recordWriter{}

	err := client.StreamChat(context.Background(), "你好", nil, writer)
	require.NoError(t, err)
	assert.Equal(t, []string{"你", "好"}, writer.chunks)
}

func TestStreamChatFallsBackBeforeFirstChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Model == "primary" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"备用回答\"}}]}\n")
		fmt.Fprint(w, "data: [DONE]\n")
	}))
	defer server.Close()

	client := NewClient(config.LLMConfig{
		APIKey:        "k",
		BaseURL:       server.URL,
		Model:         "primary",
		FallbackModel: "backup",
	})
	writer := &recordWriter{}

	err := client.StreamChat(context.Background(), "你好", nil, writer)
	require.NoError(t, err)
	assert.Equal(t, []string{"备用回答"}, writer.chunks)
}

func TestStreamChatNoFallbackAfterFirstChunk(t *testing.T) {
	var fallbackCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Model == "backup" {
			fallbackCalls++
			fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"备用完整回答\"}}]}\n")
			fmt.Fprint(w, "data: [DONE]\n")
			return
		}
		// 主模型先吐出一个分块，然后连接异常中断
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"主模型前半\"}}]}\n")
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}))
	defer server.Close()

	client := NewClient(config.LLMConfig{
		APIKey:        "k",
		BaseURL:       server.URL,
		Model:         "primary",
		FallbackModel: "backup",
	})
	writer := &recordWriter{}

	err := client.StreamChat(context.Background(), "你好", nil, writer)
	require.Error(t, err)
	assert.Equal(t, []string{"主模型前半"}, writer.chunks)
	assert.Equal(t, 0, fallbackCalls)
}

func TestStreamChatTruncatedBeforeDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"半截回答\"}}]}\n")
	}))
	defer server.Close()

	client := NewClient(config.LLMConfig{APIKey: "k", BaseURL: server.URL, Model: "m"})
	writer := &recordWriter{}

	err := client.StreamChat(context.Background(), "你好", nil, writer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[DONE]")
	assert.Equal(t, []string{"半截回答"}, writer.chunks)
}

func TestBuildRequestGenerationParams(t *testing.T) {
	c := &openAICompatibleClient{cfg: config.LLMConfig{
		Generation: config.LLMGenerationConfig{Temperature: 0.5, TopP: 0.8, MaxTokens: 100},
	}}

	// 未传参时使用配置中的生成参数
	req := c.buildRequest("m", "p", nil, false)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.5, *req.Temperature)
	require.NotNil(t, req.MaxTokens)
	assert.Equal(t, 100, *req.MaxTokens)

	// 传参优先生效
	temp := 0.1
	req = c.buildRequest("m", "p", &GenerationParams{Temperature: &temp}, true)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.1, *req.Temperature)
	assert.Nil(t, req.MaxTokens)
	assert.True(t, req.Stream)
}
