package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vardast-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// 每个会话缓存的消息条数上限与过期时间。
const (
	historyCacheLimit = 20
	historyCacheTTL   = 7 * 24 * time.Hour
)

// HistoryCache 缓存会话最近的消息窗口，加速对话时的历史读取。
// 缓存只是投影：任何失败都应降级为直接读数据库，而不是让请求失败。
type HistoryCache interface {
	Get(ctx context.Context, sessionID string) ([]model.Message, bool)
	Set(ctx context.Context, sessionID string, messages []model.Message)
	// AppendPair 将本轮新增的两条消息合并进缓存窗口。
	AppendPair(ctx context.Context, sessionID string, userMsg, assistantMsg model.Message)
	Invalidate(ctx context.Context, sessionID string)
}

type redisHistoryCache struct {
	redisClient *redis.Client
}

// NewHistoryCache 创建一个基于 Redis 的 HistoryCache 实例。
func NewHistoryCache(redisClient *redis.Client) HistoryCache {
	return &redisHistoryCache{redisClient: redisClient}
}

func historyKey(sessionID string) string {
	return fmt.Sprintf("session:%s:history", sessionID)
}

// Get 返回缓存的消息窗口，未命中或解析失败时返回 false。
func (c *redisHistoryCache) Get(ctx context.Context, sessionID string) ([]model.Message, bool) {
	jsonData, err := c.redisClient.Get(ctx, historyKey(sessionID)).Result()
	if err != nil {
		return nil, false
	}
	var messages []model.Message
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, false
	}
	return messages, true
}

// Set 写入消息窗口，只保留最近 historyCacheLimit 条。
func (c *redisHistoryCache) Set(ctx context.Context, sessionID string, messages []model.Message) {
	if len(messages) > historyCacheLimit {
		messages = messages[len(messages)-historyCacheLimit:]
	}
	jsonData, err := json.Marshal(messages)
	if err != nil {
		return
	}
	_ = c.redisClient.Set(ctx, historyKey(sessionID), jsonData, historyCacheTTL).Err()
}

// AppendPair 在缓存命中时把新的一轮消息并入窗口，未命中时不做任何事。
func (c *redisHistoryCache) AppendPair(ctx context.Context, sessionID string, userMsg, assistantMsg model.Message) {
	messages, ok := c.Get(ctx, sessionID)
	if !ok {
		return
	}
	messages = append(messages, userMsg, assistantMsg)
	c.Set(ctx, sessionID, messages)
}

// Invalidate 删除会话的缓存窗口。
func (c *redisHistoryCache) Invalidate(ctx context.Context, sessionID string) {
	_ = c.redisClient.Del(ctx, historyKey(sessionID)).Err()
}
