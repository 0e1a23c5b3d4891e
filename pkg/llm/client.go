// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"vardast-go/internal/config"
	"vardast-go/pkg/log"
)

// OfflineResponse 是未配置 API Key 时返回的固定占位回复。
// 保持系统在离线/降级环境下可用，而不是在启动或请求时失败。
const OfflineResponse = "未配置 LLM API Key，这是一条基于提示词的占位回复。"

// MessageWriter defines an interface for writing streamed message chunks.
// This allows both a websocket.Conn and test interceptors to be used.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Completion 是一次补全的结果及实际使用的模型。
// 主模型失败后由备用模型成功时，Model 为备用模型名。
type Completion struct {
	Text  string
	Model string
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Client defines the interface for an LLM client.
type Client interface {
	// Complete 将提示词发送给主模型；主模型失败且配置了不同的备用模型时
	// 重试一次备用模型，备用模型也失败则错误向上传播。
	Complete(ctx context.Context, prompt string, gen *GenerationParams) (Completion, error)
	// StreamChat 以流式方式补全，分块写入 writer。备用模型逻辑与 Complete 一致，
	// 但只在第一个分块发出之前生效。
	StreamChat(ctx context.Context, prompt string, gen *GenerationParams, writer MessageWriter) error
}

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client based on the config.
func NewClient(cfg config.LLMConfig) Client {
	if cfg.APIKey == "" {
		log.Warnf("[LLMClient] 未配置 API Key, 所有补全将返回占位回复")
	}
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Complete 执行显式的两段式补全：先主模型，失败后尝试备用模型。
func (c *openAICompatibleClient) Complete(ctx context.Context, prompt string, gen *GenerationParams) (Completion, error) {
	if c.cfg.APIKey == "" {
		return Completion{Text: OfflineResponse, Model: "offline"}, nil
	}

	text, err := c.completeWith(ctx, c.cfg.Model, prompt, gen)
	if err == nil {
		return Completion{Text: text, Model: c.cfg.Model}, nil
	}
	log.Errorf("[LLMClient] 主模型 %s 请求失败: %v", c.cfg.Model, err)

	fallback := c.cfg.FallbackModel
	if fallback == "" || fallback == c.cfg.Model {
		return Completion{}, err
	}

	log.Warnf("[LLMClient] 使用备用模型 %s 重试", fallback)
	text, fbErr := c.completeWith(ctx, fallback, prompt, gen)
	if fbErr != nil {
		log.Errorf("[LLMClient] 备用模型 %s 请求也失败: %v", fallback, fbErr)
		return Completion{}, fmt.Errorf("fallback model %s failed after primary error (%v): %w", fallback, err, fbErr)
	}
	return Completion{Text: text, Model: fallback}, nil
}

// completeWith 对指定模型执行一次非流式补全。
func (c *openAICompatibleClient) completeWith(ctx context.Context, model, prompt string, gen *GenerationParams) (string, error) {
	reqBody := c.buildRequest(model, prompt, gen, false)

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("chat api returned no choices")
	}
	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

// trackedWriter 记录是否已有分块成功写出，用于判定备用模型能否重试。
type trackedWriter struct {
	next    MessageWriter
	emitted bool
}

func (w *trackedWriter) WriteMessage(messageType int, data []byte) error {
	if err := w.next.WriteMessage(messageType, data); err != nil {
		return err
	}
	w.emitted = true
	return nil
}

// StreamChat 以流式方式补全。主模型在产生任何分块前失败时改用备用模型重试。
func (c *openAICompatibleClient) StreamChat(ctx context.Context, prompt string, gen *GenerationParams, writer MessageWriter) error {
	if c.cfg.APIKey == "" {
		return writer.WriteMessage(websocket.TextMessage, []byte(OfflineResponse))
	}

	tracked := &trackedWriter{next: writer}
	err := c.streamWith(ctx, c.cfg.Model, prompt, gen, tracked)
	if err == nil {
		return nil
	}
	log.Errorf("[LLMClient] 主模型 %s 流式请求失败: %v", c.cfg.Model, err)

	// 已有分块送达客户端后不再重试，否则备用模型的完整回复
	// 会拼接在主模型的半截输出之后
	if tracked.emitted {
		return err
	}

	fallback := c.cfg.FallbackModel
	if fallback == "" || fallback == c.cfg.Model {
		return err
	}
	log.Warnf("[LLMClient] 使用备用模型 %s 重试流式请求", fallback)
	return c.streamWith(ctx, fallback, prompt, gen, tracked)
}

func (c *openAICompatibleClient) streamWith(ctx context.Context, model, prompt string, gen *GenerationParams, writer MessageWriter) error {
	reqBody := c.buildRequest(model, prompt, gen, true)

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, readErr := reader.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return fmt.Errorf("failed to read from stream: %w", readErr)
		}

		if strings.HasPrefix(line, "data: ") {
			data := strings.TrimPrefix(line, "data: ")
			if strings.TrimSpace(data) == "[DONE]" {
				return nil
			}
			var chunk chatResponse
			if err := json.Unmarshal([]byte(data), &chunk); err == nil && len(chunk.Choices) > 0 {
				if content := chunk.Choices[0].Delta.Content; content != "" {
					if err := writer.WriteMessage(websocket.TextMessage, []byte(content)); err != nil {
						return fmt.Errorf("failed to write stream chunk: %w", err)
					}
				}
			}
		}

		if readErr == io.EOF {
			// [DONE] 哨兵之前连接就关闭，说明回复被截断而不是正常结束
			return fmt.Errorf("stream closed before [DONE] sentinel")
		}
	}
}

func (c *openAICompatibleClient) buildRequest(model, prompt string, gen *GenerationParams, stream bool) chatRequest {
	reqBody := chatRequest{
		Model: model,
		Messages: []Message{
			{Role: "user", Content: prompt},
		},
		Stream: stream,
	}
	// 从配置或传参注入生成参数（传参优先生效）
	if gen != nil {
		reqBody.Temperature = gen.Temperature
		reqBody.TopP = gen.TopP
		reqBody.MaxTokens = gen.MaxTokens
		return reqBody
	}
	if c.cfg.Generation.Temperature != 0 {
		t := c.cfg.Generation.Temperature
		reqBody.Temperature = &t
	}
	if c.cfg.Generation.TopP != 0 {
		p := c.cfg.Generation.TopP
		reqBody.TopP = &p
	}
	if c.cfg.Generation.MaxTokens != 0 {
		m := c.cfg.Generation.MaxTokens
		reqBody.MaxTokens = &m
	}
	return reqBody
}
