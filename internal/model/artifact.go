package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// ArtifactModel 由任务结果生成的草稿
type ArtifactModel struct {
	ID        string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	JobID     string         `gorm:"type:varchar(64);not null;index" json:"job_id"`
	Title     string         `gorm:"type:varchar(512);not null" json:"title"`
	Excerpt   string         `gorm:"type:text" json:"excerpt,omitempty"`
	Body      string         `gorm:"type:text;not null" json:"body"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
	Status    string         `gorm:"type:varchar(32);not null;default:'draft'" json:"status"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
}

// TableName 指定表名
func (ArtifactModel) TableName() string {
	return "artifacts"
}

// Validate 验证草稿模型
func (am *ArtifactModel) Validate() error {
	if am.ID == "" {
		return errors.New("artifact ID is required")
	}
	if am.JobID == "" {
		return errors.New("job ID is required")
	}
	if am.Title == "" {
		return errors.New("artifact title is required")
	}
	return nil
}
