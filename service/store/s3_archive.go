/*
 * @module service/store/s3_archive
 * @description 报表归档：每次发布的报表上传到 S3 兼容对象存储
 * @architecture 适配器模式 - 封装 aws-sdk-go-v2 的 S3 客户端
 * @documentReference DESIGN.md
 * @stateFlow 发布 -> PutObject(prefix/kind/日期/runID.json)
 * @rules
 *   - 归档失败只记录日志，不影响发布
 *   - 支持自定义 endpoint（MinIO、DigitalOcean Spaces 等）
 * @dependencies github.com/aws/aws-sdk-go-v2
 * @refs service/store/report_service.go
 */

package store

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3ArchiveConfig 归档配置
type S3ArchiveConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// ObjectPutter S3 PutObject 能力
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive 报表归档
type S3Archive struct {
	client ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Archive 根据配置创建归档客户端
func NewS3Archive(ctx context.Context, cfg S3ArchiveConfig) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("未配置归档 bucket")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("加载S3配置失败: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return NewS3ArchiveWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3ArchiveWithClient 使用已有客户端创建归档
func NewS3ArchiveWithClient(client ObjectPutter, bucket, prefix string) *S3Archive {
	if prefix == "" {
		prefix = "reports"
	}
	return &S3Archive{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

// ObjectKey 归档对象键
func (a *S3Archive) ObjectKey(kind, runID string) string {
	if runID == "" {
		runID = a.now().UTC().Format("150405")
	}
	return path.Join(a.prefix, kind, a.now().UTC().Format("2006-01-02"), runID+".json")
}

// Archive 上传一份报表
func (a *S3Archive) Archive(ctx context.Context, kind, runID string, payload []byte) error {
	key := a.ObjectKey(kind, runID)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("上传报表归档失败 [%s]: %w", key, err)
	}
	return nil
}
