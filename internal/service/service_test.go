package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vardast-go/internal/model"
	"vardast-go/internal/repository"
	"vardast-go/pkg/llm"
)

// newTestDB 打开一个内存 SQLite 库并迁移全部表结构。
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// 每个测试使用独立命名的内存库，cache=shared 让连接池内的连接共享同一个库
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Assistant{},
		&model.KnowledgeDocument{},
		&model.ConversationSession{},
		&model.Message{},
	))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})
	return db
}

// fakeEmbedder 返回确定性向量，可配置为失败。
type fakeEmbedder struct {
	mu      sync.Mutex
	dims    int
	failing bool
	calls   int
}

func (f *fakeEmbedder) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.failing {
		return nil, errors.New("embedding backend down")
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, f.dims)
		for j := range vec {
			vec[j] = float32(len(text)%(j+3)) / 3.0
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

// fakeIndex 是内存版向量索引，按助手归属过滤。
type fakeIndex struct {
	mu        sync.Mutex
	docs      map[string]model.IndexedDocument
	failing   bool
	nilScores bool // 返回没有载荷的命中
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: make(map[string]model.IndexedDocument)}
}

func (f *fakeIndex) Upsert(ctx context.Context, assistantID, documentID string, vector []float32, payload model.DocumentPayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return "", errors.New("index unavailable")
	}
	f.docs[documentID] = model.IndexedDocument{
		DocumentID:  documentID,
		AssistantID: assistantID,
		Title:       payload.Title,
		Content:     payload.Content,
		Vector:      vector,
	}
	return documentID, nil
}

func (f *fakeIndex) Search(ctx context.Context, assistantID string, vector []float32, limit int) ([]model.SearchHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errors.New("index unavailable")
	}
	var hits []model.SearchHit
	for id, doc := range f.docs {
		if doc.AssistantID != assistantID || len(hits) >= limit {
			continue
		}
		hit := model.SearchHit{Reference: id, Score: 0.9}
		if !f.nilScores {
			hit.Payload = &model.DocumentPayload{
				AssistantID: doc.AssistantID,
				Title:       doc.Title,
				Content:     doc.Content,
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (f *fakeIndex) Delete(ctx context.Context, reference string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, reference)
	return nil
}

func (f *fakeIndex) DeleteByAssistant(ctx context.Context, assistantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, doc := range f.docs {
		if doc.AssistantID == assistantID {
			delete(f.docs, id)
		}
	}
	return nil
}

// fakeLLM 返回固定回复，可配置为失败，并记录收到的提示词。
type fakeLLM struct {
	mu      sync.Mutex
	reply   string
	failing bool
	prompts []string
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string, gen *llm.GenerationParams) (llm.Completion, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.failing {
		return llm.Completion{}, errors.New("llm backend down")
	}
	return llm.Completion{Text: f.reply, Model: "fake"}, nil
}

func (f *fakeLLM) StreamChat(ctx context.Context, prompt string, gen *llm.GenerationParams, writer llm.MessageWriter) error {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.failing {
		return errors.New("llm backend down")
	}
	// 把固定回复拆成两个分块发出
	half := len(f.reply) / 2
	if err := writer.WriteMessage(websocket.TextMessage, []byte(f.reply[:half])); err != nil {
		return err
	}
	return writer.WriteMessage(websocket.TextMessage, []byte(f.reply[half:]))
}

// fakeArchive 是内存版文档归档。
type fakeArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{objects: make(map[string][]byte)}
}

func (f *fakeArchive) Put(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectName] = data
	return nil
}

func (f *fakeArchive) Remove(ctx context.Context, objectName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectName)
	return nil
}

func (f *fakeArchive) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	return fmt.Sprintf("http://archive.local/%s", objectName), nil
}

// fakeExtractor 把文件内容原样当作提取出的文本。
type fakeExtractor struct{}

func (fakeExtractor) ExtractText(ctx context.Context, fileReader io.Reader, fileName string) (string, error) {
	data, err := io.ReadAll(fileReader)
	return string(data), err
}

// newTestRepos 创建一组基于内存数据库的 repository。
func newTestRepos(t *testing.T) (repository.AssistantRepository, repository.DocumentRepository, repository.SessionRepository) {
	db := newTestDB(t)
	return repository.NewAssistantRepository(db), repository.NewDocumentRepository(db), repository.NewSessionRepository(db)
}
