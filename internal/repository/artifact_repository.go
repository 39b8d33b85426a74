package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/mautops/genqueue/internal/model"
	"gorm.io/gorm"
)

// ArtifactRepository 草稿仓储接口
type ArtifactRepository interface {
	Save(ctx context.Context, artifact *model.ArtifactModel) error
	FindByID(ctx context.Context, id string) (*model.ArtifactModel, error)
	FindByJobID(ctx context.Context, jobID string) ([]*model.ArtifactModel, error)
}

// artifactRepository 草稿仓储实现
type artifactRepository struct {
	db *gorm.DB
}

// NewArtifactRepository 创建草稿仓储
func NewArtifactRepository(db *gorm.DB) ArtifactRepository {
	return &artifactRepository{db: db}
}

// Save 保存草稿
func (r *artifactRepository) Save(ctx context.Context, artifact *model.ArtifactModel) error {
	if err := artifact.Validate(); err != nil {
		return fmt.Errorf("%w: %s", model.ErrValidation, err.Error())
	}
	return r.db.WithContext(ctx).Save(artifact).Error
}

// FindByID 根据 ID 查找草稿
func (r *artifactRepository) FindByID(ctx context.Context, id string) (*model.ArtifactModel, error) {
	var artifact model.ArtifactModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&artifact).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: artifact %s", model.ErrNotFound, id)
		}
		return nil, err
	}
	return &artifact, nil
}

// FindByJobID 查找任务生成的草稿
func (r *artifactRepository) FindByJobID(ctx context.Context, jobID string) ([]*model.ArtifactModel, error) {
	var artifacts []*model.ArtifactModel
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Order("created_at DESC").Find(&artifacts).Error
	return artifacts, err
}
