// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"vardast-go/internal/config"
	"vardast-go/pkg/log"
	"vardast-go/pkg/tasks"
)

// TaskProcessor defines the interface for any service that can run a backfill task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Bootstrap(ctx context.Context, assistantID string) error
}

// Producer 发送回填任务到 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: writer}
}

// ProduceBootstrapTask 发送一个知识回填任务到 Kafka。
func (p *Producer) ProduceBootstrapTask(ctx context.Context, task tasks.BootstrapTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.AssistantID),
		Value: taskBytes,
	})
}

// StartConsumer 启动一个 Kafka 消费者来处理回填任务。
// 回填本身是尽力而为的（单个文档失败不会中止），所以任务失败时
// 仍提交 offset，由调用方重新触发，而不是让队列反复重试。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  "vardast-go-consumer",
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error("从 Kafka 读取消息失败", err)
			break
		}

		var task tasks.BootstrapTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}

		log.Infof("开始处理回填任务, assistant: %s", task.AssistantID)
		if err := processor.Bootstrap(ctx, task.AssistantID); err != nil {
			log.Errorf("回填任务失败, assistant: %s, error: %v", task.AssistantID, err)
		} else {
			log.Infof("回填任务完成, assistant: %s", task.AssistantID)
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}
