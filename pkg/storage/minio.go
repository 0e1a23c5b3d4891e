// Package storage 提供了与对象存储服务（MinIO）交互的功能，
// 用于归档知识文档的原始文件。
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"vardast-go/internal/config"
	"vardast-go/pkg/log"
)

// Archive 封装了对归档存储桶的读写。
type Archive struct {
	client     *minio.Client
	bucketName string
}

// NewArchive 初始化 MinIO 客户端并确保归档存储桶存在。
func NewArchive(cfg config.MinIOConfig) (*Archive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
	}

	log.Infof("MinIO 归档就绪, bucket: %s", cfg.BucketName)
	return &Archive{client: client, bucketName: cfg.BucketName}, nil
}

// Put 写入一个归档对象。
func (a *Archive) Put(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	_, err := a.client.PutObject(ctx, a.bucketName, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("写入归档对象失败: %w", err)
	}
	return nil
}

// Remove 删除一个归档对象。
func (a *Archive) Remove(ctx context.Context, objectName string) error {
	if err := a.client.RemoveObject(ctx, a.bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除归档对象失败: %w", err)
	}
	return nil
}

// PresignedURL 为归档对象生成限时下载链接。
func (a *Archive) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	presignedURL, err := a.client.PresignedGetObject(ctx, a.bucketName, objectName, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("生成下载链接失败: %w", err)
	}
	return presignedURL.String(), nil
}
