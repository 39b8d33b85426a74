package model

import (
	"errors"
	"time"
)

// ProgressEvent 进度事件,追加后不可修改
// Seq 为自增主键,追加顺序即读取顺序
type ProgressEvent struct {
	Seq                int64     `gorm:"primaryKey;autoIncrement" json:"seq"`
	JobID              string    `gorm:"type:varchar(64);not null;index" json:"job_id"`
	Phase              string    `gorm:"type:varchar(32)" json:"phase,omitempty"`
	StageNumber        *int      `json:"stage_number,omitempty"`
	StageName          string    `gorm:"type:varchar(255);not null" json:"stage_name"`
	DetailText         string    `gorm:"type:text" json:"detail_text,omitempty"`
	ProgressPercentage int       `gorm:"not null;default:0" json:"progress_percentage"`
	Timestamp          time.Time `gorm:"not null" json:"timestamp"`
}

// TableName 指定表名
func (ProgressEvent) TableName() string {
	return "progress_events"
}

// Validate 验证进度事件
func (e *ProgressEvent) Validate() error {
	if e.JobID == "" {
		return errors.New("job ID is required")
	}
	return nil
}
