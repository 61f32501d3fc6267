package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/aihub/docqa-go/internal/config"
	"github.com/aihub/docqa-go/internal/logger"
)

// MinIOStorage MinIO/S3对象存储，保存索引文件对并提供s3://来源读取
type MinIOStorage struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewMinIOStorage 创建MinIO存储并确保默认bucket存在
func NewMinIOStorage(ctx context.Context, cfg config.ObjectStorageConfig) (*MinIOStorage, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint not configured")
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "docqa"
	}

	// minio.New 不需要协议前缀
	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	s := &MinIOStorage{
		client: client,
		bucket: bucket,
		logger: logger.Named("minio"),
	}
	if err := s.ensureBucket(ctx, bucket, cfg.ConnectRetries); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinIOStorage) ensureBucket(ctx context.Context, bucket string, retries int) error {
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	for i := 0; i < retries; i++ {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err == nil && exists {
			return nil
		}
		if err == nil {
			err = s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
			if err == nil {
				s.logger.Info("created minio bucket", zap.String("bucket", bucket))
				return nil
			}
			// 其他实例可能已创建
			resp := minio.ToErrorResponse(err)
			if resp.Code == "BucketAlreadyOwnedByYou" || resp.Code == "BucketAlreadyExists" {
				return nil
			}
		}
		lastErr = err

		if i < retries-1 {
			wait := time.Duration(i+1) * 2 * time.Second
			s.logger.Warn("minio bucket check failed, retrying",
				zap.Int("attempt", i+1),
				zap.Duration("wait", wait),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("failed to ensure bucket %s: %w", bucket, lastErr)
}

// Bucket 默认bucket
func (s *MinIOStorage) Bucket() string {
	return s.bucket
}

// Put 写入默认bucket
func (s *MinIOStorage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// Get 读取默认bucket中的对象
func (s *MinIOStorage) Get(ctx context.Context, key string) ([]byte, error) {
	return s.GetFrom(ctx, s.bucket, key)
}

// GetFrom 读取指定bucket中的对象，不存在时返回包装的fs.ErrNotExist
func (s *MinIOStorage) GetFrom(ctx context.Context, bucket, key string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.translate(bucket, key, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, s.translate(bucket, key, err)
	}
	return data, nil
}

func (s *MinIOStorage) translate(bucket, key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
		return fmt.Errorf("object %s/%s: %w", bucket, key, fs.ErrNotExist)
	}
	return fmt.Errorf("get object %s/%s: %w", bucket, key, err)
}

// HealthCheck 执行健康检查
func (s *MinIOStorage) HealthCheck(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
