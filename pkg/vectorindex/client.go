// Package vectorindex 提供了基于 Elasticsearch 的向量索引客户端。
// 每个助手的文档向量存放在同一个索引中，以 assistant_id 过滤实现归属隔离。
package vectorindex

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"vardast-go/internal/config"
	"vardast-go/internal/model"
	"vardast-go/pkg/log"
)

// Client 封装了对向量索引的全部操作。
type Client struct {
	es        *elasticsearch.Client
	indexName string
	ready     atomic.Bool
}

// NewClient 创建向量索引客户端。索引本身在首次写入或查询时才创建，
// 因为向量维度只有在产生第一个 embedding 之后才可知。
func NewClient(cfg config.VectorIndexConfig) (*Client, error) {
	esCfg := elasticsearch.Config{
		Addresses: []string{cfg.Addresses},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("创建 Elasticsearch 客户端失败: %w", err)
	}
	return &Client{es: es, indexName: cfg.IndexName}, nil
}

// EnsureIndex 幂等地创建向量索引：索引已存在时为空操作。
// 必须在每次写入/查询前调用，维度以首次调用时传入的为准。
func (c *Client) EnsureIndex(ctx context.Context, dims int) error {
	if c.ready.Load() {
		return nil
	}

	res, err := c.es.Indices.Exists([]string{c.indexName}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("检查索引是否存在时出错: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		c.ready.Store(true)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"document_id": { "type": "keyword" },
				"assistant_id": { "type": "keyword" },
				"title": { "type": "keyword" },
				"content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				}
			}
		}
	}`, dims)

	createRes, err := c.es.Indices.Create(
		c.indexName,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("创建索引 '%s' 失败: %w", c.indexName, err)
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		// 并发创建时另一端可能已建好
		if createRes.StatusCode == http.StatusBadRequest {
			c.ready.Store(true)
			return nil
		}
		return fmt.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", c.indexName, createRes.String())
	}

	log.Infof("索引 '%s' 创建成功, 向量维度: %d", c.indexName, dims)
	c.ready.Store(true)
	return nil
}

// Upsert 以文档 ID 为键写入或替换一条向量记录，返回可寻址该记录的引用。
func (c *Client) Upsert(ctx context.Context, assistantID, documentID string, vector []float32, payload model.DocumentPayload) (string, error) {
	if err := c.EnsureIndex(ctx, len(vector)); err != nil {
		return "", err
	}

	doc := model.IndexedDocument{
		DocumentID:  documentID,
		AssistantID: assistantID,
		Title:       payload.Title,
		Content:     payload.Content,
		Vector:      vector,
	}
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("序列化向量文档失败: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.indexName,
		DocumentID: documentID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return "", fmt.Errorf("写入向量索引失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("写入向量索引出错: %s", res.String())
		return "", fmt.Errorf("向量索引写入返回错误: %s", res.Status())
	}
	return documentID, nil
}

// Search 在指定助手的记录范围内做 kNN 余弦检索，按相似度降序返回至多 limit 条。
// 结果少于 limit 属于正常情况；传输或索引错误则向上传播，不会以空结果掩盖失败。
func (c *Client) Search(ctx context.Context, assistantID string, vector []float32, limit int) ([]model.SearchHit, error) {
	if err := c.EnsureIndex(ctx, len(vector)); err != nil {
		return nil, err
	}

	numCandidates := limit * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	query := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              limit,
			"num_candidates": numCandidates,
			"filter": map[string]interface{}{
				"term": map[string]interface{}{"assistant_id": assistantID},
			},
		},
		"size": limit,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("序列化检索请求失败: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.indexName),
		c.es.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("向量检索请求失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("向量检索返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("向量检索返回错误: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				ID     string               `json:"_id"`
				Score  float64              `json:"_score"`
				Source model.IndexedDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("解析检索响应失败: %w", err)
	}

	hits := make([]model.SearchHit, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		hits = append(hits, model.SearchHit{
			Reference: hit.ID,
			Score:     hit.Score,
			Payload: &model.DocumentPayload{
				AssistantID: hit.Source.AssistantID,
				Title:       hit.Source.Title,
				Content:     hit.Source.Content,
			},
		})
	}
	return hits, nil
}

// Delete 删除一条向量记录，记录不存在时视为成功。
func (c *Client) Delete(ctx context.Context, reference string) error {
	req := esapi.DeleteRequest{
		Index:      c.indexName,
		DocumentID: reference,
		Refresh:    "true",
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("删除向量记录失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("删除向量记录返回错误: %s", res.Status())
	}
	return nil
}

// DeleteByAssistant 删除某助手的全部向量记录，供级联删除使用。
func (c *Client) DeleteByAssistant(ctx context.Context, assistantID string) error {
	query := fmt.Sprintf(`{"query":{"term":{"assistant_id":%q}}}`, assistantID)
	res, err := c.es.DeleteByQuery(
		[]string{c.indexName},
		strings.NewReader(query),
		c.es.DeleteByQuery.WithContext(ctx),
		c.es.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return fmt.Errorf("按助手删除向量记录失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("按助手删除向量记录返回错误: %s", res.Status())
	}
	return nil
}
