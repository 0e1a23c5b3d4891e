// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"vardast-go/internal/config"
	"vardast-go/internal/handler"
	"vardast-go/internal/middleware"
	"vardast-go/internal/model"
	"vardast-go/internal/repository"
	"vardast-go/internal/service"
	"vardast-go/pkg/database"
	"vardast-go/pkg/embedding"
	"vardast-go/pkg/kafka"
	"vardast-go/pkg/llm"
	"vardast-go/pkg/log"
	"vardast-go/pkg/storage"
	"vardast-go/pkg/tika"
	"vardast-go/pkg/vectorindex"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load("./configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库连接并迁移表结构
	db, err := database.NewMySQL(cfg.Database.MySQL.DSN)
	if err != nil {
		log.Fatalf("MySQL 初始化失败: %v", err)
	}
	if err := db.AutoMigrate(
		&model.Assistant{},
		&model.KnowledgeDocument{},
		&model.ConversationSession{},
		&model.Message{},
	); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	// 4. 初始化可选的外部依赖：Redis、MinIO、Tika、Kafka
	var historyCache repository.HistoryCache
	if cfg.Database.Redis.Enabled() {
		redisClient, err := database.NewRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
		if err != nil {
			log.Fatalf("Redis 初始化失败: %v", err)
		}
		historyCache = repository.NewHistoryCache(redisClient)
	} else {
		log.Info("未配置 Redis，历史缓存已禁用")
	}

	var archive service.DocumentArchive
	if cfg.MinIO.Enabled() {
		minioArchive, err := storage.NewArchive(cfg.MinIO)
		if err != nil {
			log.Fatalf("MinIO 初始化失败: %v", err)
		}
		archive = minioArchive
	} else {
		log.Info("未配置 MinIO，原始文档归档已禁用")
	}

	var extractor service.TextExtractor
	if cfg.Tika.Enabled() {
		extractor = tika.NewClient(cfg.Tika)
	} else {
		log.Info("未配置 Tika，文件导入已禁用")
	}

	// 5. 初始化向量索引
	indexClient, err := vectorindex.NewClient(cfg.VectorIndex)
	if err != nil {
		log.Fatalf("向量索引初始化失败: %v", err)
	}
	if err := indexClient.EnsureIndex(context.Background(), cfg.Embedding.Dimensions); err != nil {
		// 索引创建失败不阻塞启动，首次写入时会再次尝试
		log.Errorf("向量索引创建失败，将在首次写入时重试: %v", err)
	}

	// 6. 初始化 Repository 与 Service (依赖注入)
	assistantRepo := repository.NewAssistantRepository(db)
	docRepo := repository.NewDocumentRepository(db)
	sessionRepo := repository.NewSessionRepository(db)

	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	ragService := service.NewRAGService(embeddingClient, indexClient, docRepo)
	assistantService := service.NewAssistantService(assistantRepo, docRepo, sessionRepo, ragService, archive, extractor)
	chatService := service.NewChatService(assistantRepo, sessionRepo, historyCache, ragService, llmClient)

	// 7. 初始化 Kafka 回填任务的生产者与后台消费者
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var producer *kafka.Producer
	if cfg.Kafka.Enabled() {
		producer = kafka.NewProducer(cfg.Kafka)
		go kafka.StartConsumer(rootCtx, cfg.Kafka, assistantService)
	} else {
		log.Info("未配置 Kafka，知识回填将同步执行")
	}

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	assistantHandler := handler.NewAssistantHandler(assistantService)
	knowledgeHandler := handler.NewKnowledgeHandler(assistantService, producer)
	sessionHandler := handler.NewSessionHandler(assistantService)
	chatHandler := handler.NewChatHandler(chatService)

	apiV1 := r.Group("/api/v1")
	{
		assistants := apiV1.Group("/assistants")
		{
			assistants.POST("", assistantHandler.CreateAssistant)
			assistants.GET("", assistantHandler.ListAssistants)
			assistants.GET("/:assistantId", assistantHandler.GetAssistant)
			assistants.PUT("/:assistantId", assistantHandler.UpdateAssistant)
			assistants.DELETE("/:assistantId", assistantHandler.DeleteAssistant)

			assistants.POST("/:assistantId/documents", knowledgeHandler.AddDocument)
			assistants.POST("/:assistantId/documents/upload", knowledgeHandler.UploadDocument)
			assistants.GET("/:assistantId/documents", knowledgeHandler.ListDocuments)
			assistants.GET("/:assistantId/documents/:documentId/download", knowledgeHandler.DownloadDocument)
			assistants.DELETE("/:assistantId/documents/:documentId", knowledgeHandler.DeleteDocument)
			assistants.POST("/:assistantId/bootstrap", knowledgeHandler.Bootstrap)

			assistants.POST("/:assistantId/sessions", sessionHandler.CreateSession)
			assistants.GET("/:assistantId/sessions", sessionHandler.ListSessions)
			assistants.GET("/:assistantId/sessions/:sessionId/messages", sessionHandler.ListMessages)
		}

		chat := apiV1.Group("/chat")
		{
			chat.POST("/assistants/:assistantId", chatHandler.ChatWithAssistant)
			chat.POST("/assistants/:assistantId/sessions/:sessionId", chatHandler.ChatInSession)
			chat.GET("/ws/:assistantId", chatHandler.HandleWebsocket)
		}
	}

	// 10. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 先停掉后台消费者，再关闭 HTTP 服务器
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
