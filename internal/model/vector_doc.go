package model

// DocumentPayload 是随向量一起写入索引的业务载荷。
// AssistantID 用于检索时的归属过滤，跨助手泄露检索结果属于正确性错误。
type DocumentPayload struct {
	AssistantID string `json:"assistant_id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
}

// IndexedDocument 定义了存储在向量索引中的文档结构。
type IndexedDocument struct {
	DocumentID  string    `json:"document_id"`
	AssistantID string    `json:"assistant_id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Vector      []float32 `json:"vector"`
}

// SearchHit 是一次向量检索的单条命中结果，按相似度降序返回。
type SearchHit struct {
	Reference string           `json:"reference"`
	Score     float64          `json:"score"`
	Payload   *DocumentPayload `json:"payload"`
}
