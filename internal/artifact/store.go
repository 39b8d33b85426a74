package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/genqueue/internal/config"
	"github.com/mautops/genqueue/internal/model"
	"github.com/mautops/genqueue/internal/pipeline"
	"github.com/mautops/genqueue/internal/repository"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"gorm.io/gorm"
)

// Draft 从任务结果复制出的草稿文档
type Draft struct {
	ID        string                 `json:"id"`
	JobID     string                 `json:"job_id"`
	Title     string                 `json:"title"`
	Excerpt   string                 `json:"excerpt,omitempty"`
	Body      string                 `json:"body"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Images    *model.ImageSet        `json:"images,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// newDraft 构造草稿,草稿生命周期与任务无关
func newDraft(job *model.GenerationJob, result *model.GenerationResult) *Draft {
	return &Draft{
		ID:        uuid.New().String(),
		JobID:     job.ID,
		Title:     result.Title,
		Excerpt:   result.Excerpt,
		Body:      result.Body,
		Metadata:  result.Metadata,
		Images:    result.Images,
		CreatedAt: time.Now(),
	}
}

// New 根据配置创建草稿存储
func New(ctx context.Context, cfg config.ArtifactConfig, db *gorm.DB) (pipeline.ArtifactStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "database":
		return NewDatabaseStore(repository.NewArtifactRepository(db)), nil
	case "minio":
		return NewMinioStore(ctx, cfg)
	}
	return nil, fmt.Errorf("unsupported artifact backend: %s", cfg.Backend)
}

// DatabaseStore 草稿保存在数据库
type DatabaseStore struct {
	artifacts repository.ArtifactRepository
}

// NewDatabaseStore 创建数据库草稿存储
func NewDatabaseStore(artifacts repository.ArtifactRepository) *DatabaseStore {
	return &DatabaseStore{artifacts: artifacts}
}

// CreateDraft 实现 pipeline.ArtifactStore
func (s *DatabaseStore) CreateDraft(ctx context.Context, job *model.GenerationJob, result *model.GenerationResult) (string, error) {
	draft := newDraft(job, result)
	meta, err := model.ToJSON(draft.Metadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal draft metadata: %w", err)
	}
	row := &model.ArtifactModel{
		ID:        draft.ID,
		JobID:     draft.JobID,
		Title:     draft.Title,
		Excerpt:   draft.Excerpt,
		Body:      draft.Body,
		Metadata:  meta,
		Status:    "draft",
		CreatedAt: draft.CreatedAt,
		UpdatedAt: draft.CreatedAt,
	}
	if err := s.artifacts.Save(ctx, row); err != nil {
		return "", err
	}
	return row.ID, nil
}

// objectClient MinIO 客户端中用到的方法
type objectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioStore 草稿以 JSON 对象保存在 MinIO/S3
type MinioStore struct {
	client objectClient
	bucket string
}

// NewMinioStore 创建对象存储草稿存储,bucket 不存在时创建
func NewMinioStore(ctx context.Context, cfg config.ArtifactConfig) (*MinioStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required when artifact.backend=minio")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return newMinioStore(ctx, client, cfg.Bucket)
}

func newMinioStore(ctx context.Context, client objectClient, bucket string) (*MinioStore, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		bucket = "genqueue-drafts"
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

// ObjectName 草稿对象名
func ObjectName(jobID, draftID string) string {
	return fmt.Sprintf("drafts/%s/%s.json", jobID, draftID)
}

// CreateDraft 实现 pipeline.ArtifactStore,返回对象名作为草稿 ID
func (s *MinioStore) CreateDraft(ctx context.Context, job *model.GenerationJob, result *model.GenerationResult) (string, error) {
	draft := newDraft(job, result)
	payload, err := json.Marshal(draft)
	if err != nil {
		return "", fmt.Errorf("failed to marshal draft: %w", err)
	}
	name := ObjectName(job.ID, draft.ID)
	_, err = s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("failed to upload draft: %w", err)
	}
	return name, nil
}
