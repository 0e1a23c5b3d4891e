// Package service 包含了应用的业务逻辑层。
package service

import "errors"

// 领域错误哨兵。归属不匹配对外表现为 404，但内部保持与 not-found 的区分。
var (
	ErrAssistantNotFound = errors.New("assistant not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrDocumentNotFound  = errors.New("document not found")
	// ErrSessionNotOwned 表示会话存在但不属于请求所指的助手。
	ErrSessionNotOwned = errors.New("session does not belong to this assistant")
	// ErrDocumentNotOwned 表示文档存在但不属于请求所指的助手。
	ErrDocumentNotOwned = errors.New("document does not belong to this assistant")
	// ErrExtractorDisabled 表示未配置 Tika，文件导入不可用。
	ErrExtractorDisabled = errors.New("text extractor is not configured")
	// ErrArchiveDisabled 表示未配置 MinIO 或该文档没有归档对象。
	ErrArchiveDisabled = errors.New("document archive is not available")
)
