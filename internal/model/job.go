package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/genqueue/internal/statemachine"
	"gorm.io/datatypes"
)

const (
	// DefaultPriority 默认优先级
	DefaultPriority = 5
	// MinPriority 最高优先级
	MinPriority = 1
	// MaxPriority 最低优先级
	MaxPriority = 10
)

// FeatureFlags 生成特性开关
type FeatureFlags struct {
	GenerateImages   bool `json:"generate_images,omitempty"`
	EnhanceContent   bool `json:"enhance_content,omitempty"`
	AutoInsertImages bool `json:"auto_insert_images,omitempty"`
	AutoCreateDraft  bool `json:"auto_create_draft,omitempty"`
}

// GenerationConfig 创建后不可变的生成参数
type GenerationConfig struct {
	Topic              string       `json:"topic"`
	Keywords           []string     `json:"keywords,omitempty"`
	Audience           string       `json:"audience,omitempty"`
	Tone               string       `json:"tone,omitempty"`
	TargetLength       int          `json:"target_length,omitempty"`
	QualityTier        string       `json:"quality_tier,omitempty"`
	Template           string       `json:"template,omitempty"`
	CustomInstructions string       `json:"custom_instructions,omitempty"`
	Features           FeatureFlags `json:"features"`
}

// Validate 验证生成参数
func (c *GenerationConfig) Validate() error {
	if strings.TrimSpace(c.Topic) == "" {
		return fmt.Errorf("%w: topic is required", ErrValidation)
	}
	if len(c.Topic) > 512 {
		return fmt.Errorf("%w: topic exceeds 512 characters", ErrValidation)
	}
	if c.TargetLength < 0 {
		return fmt.Errorf("%w: target_length must not be negative", ErrValidation)
	}
	return nil
}

// Image 生成的图片
type Image struct {
	URL string `json:"url"`
	Alt string `json:"alt,omitempty"`
}

// ImageSet 图片阶段的输出
type ImageSet struct {
	Featured  *Image  `json:"featured,omitempty"`
	Thumbnail *Image  `json:"thumbnail,omitempty"`
	Content   []Image `json:"content,omitempty"`
}

// GenerationResult 阶段成功后的结果,每次成功整体覆盖
type GenerationResult struct {
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	Excerpt  string                 `json:"excerpt,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Images   *ImageSet              `json:"images,omitempty"`
}

// Clone 深拷贝结果,阶段在副本上构造新结果
func (r *GenerationResult) Clone() *GenerationResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Metadata = make(map[string]interface{}, len(r.Metadata))
	for k, v := range r.Metadata {
		out.Metadata[k] = v
	}
	if r.Images != nil {
		imgs := *r.Images
		imgs.Content = append([]Image(nil), r.Images.Content...)
		out.Images = &imgs
	}
	return &out
}

// MetadataString 读取字符串类型的元数据
func (r *GenerationResult) MetadataString(key string) string {
	if r == nil || r.Metadata == nil {
		return ""
	}
	s, _ := r.Metadata[key].(string)
	return s
}

// Error kinds
const (
	ErrorKindTimeout  = "timeout"
	ErrorKindExternal = "external"
)

// JobError 任务失败描述
type JobError struct {
	Phase      string    `json:"phase"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// GenerationJob 生成任务数据模型
type GenerationJob struct {
	ID                    string              `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Status                statemachine.Status `gorm:"type:varchar(32);not null;index" json:"status"`
	Priority              int                 `gorm:"not null;default:5;index" json:"priority"`
	Topic                 string              `gorm:"type:varchar(512);not null" json:"topic"`
	Title                 string              `gorm:"type:varchar(512)" json:"title,omitempty"` // 冗余字段,用于搜索
	Config                datatypes.JSON      `gorm:"not null" json:"config"`
	CurrentStage          string              `gorm:"type:varchar(255)" json:"current_stage,omitempty"`
	ProgressPercentage    int                 `gorm:"not null;default:0" json:"progress_percentage"`
	Result                datatypes.JSON      `json:"result,omitempty"`
	Error                 datatypes.JSON      `json:"error,omitempty"`
	FailedPhase           string              `gorm:"type:varchar(32)" json:"failed_phase,omitempty"`
	LinkedArtifactID      *string             `gorm:"type:varchar(255)" json:"linked_artifact_id,omitempty"`
	SourceJobID           *string             `gorm:"type:varchar(64);index" json:"source_job_id,omitempty"`
	CreatedAt             time.Time           `gorm:"not null;index" json:"created_at"`
	UpdatedAt             time.Time           `gorm:"not null;index" json:"updated_at"`
	GenerationStartedAt   *time.Time          `json:"generation_started_at,omitempty"`
	GenerationCompletedAt *time.Time          `json:"generation_completed_at,omitempty"`
}

// NewGenerationJob 根据生成参数创建排队中的任务,priority 为 0 时使用默认优先级
func NewGenerationJob(cfg *GenerationConfig, priority int) (*GenerationJob, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrValidation)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if priority == 0 {
		priority = DefaultPriority
	}
	if priority < MinPriority || priority > MaxPriority {
		return nil, fmt.Errorf("%w: priority must be between %d and %d", ErrValidation, MinPriority, MaxPriority)
	}
	data, err := ToJSON(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job config: %w", err)
	}

	now := time.Now()
	return &GenerationJob{
		ID:           uuid.New().String(),
		Status:       statemachine.StatusQueued,
		Priority:     priority,
		Topic:        strings.TrimSpace(cfg.Topic),
		Config:       data,
		CurrentStage: "Queued",
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// TableName 指定表名
func (GenerationJob) TableName() string {
	return "generation_jobs"
}

// Validate 验证任务模型
func (j *GenerationJob) Validate() error {
	if j.ID == "" {
		return errors.New("job ID is required")
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("invalid job status %q", j.Status)
	}
	if j.Priority < MinPriority || j.Priority > MaxPriority {
		return fmt.Errorf("priority must be between %d and %d", MinPriority, MaxPriority)
	}
	if len(j.Config) == 0 {
		return errors.New("job config is required")
	}
	return nil
}

// GetConfig 反序列化生成参数
func (j *GenerationJob) GetConfig() (*GenerationConfig, error) {
	var cfg GenerationConfig
	if err := json.Unmarshal(j.Config, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job config: %w", err)
	}
	return &cfg, nil
}

// GetResult 反序列化结果,没有结果时返回 nil
func (j *GenerationJob) GetResult() (*GenerationResult, error) {
	if len(j.Result) == 0 || string(j.Result) == "null" {
		return nil, nil
	}
	var res GenerationResult
	if err := json.Unmarshal(j.Result, &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job result: %w", err)
	}
	return &res, nil
}

// GetError 反序列化失败描述,没有错误时返回 nil
func (j *GenerationJob) GetError() (*JobError, error) {
	if len(j.Error) == 0 || string(j.Error) == "null" {
		return nil, nil
	}
	var je JobError
	if err := json.Unmarshal(j.Error, &je); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job error: %w", err)
	}
	return &je, nil
}

// HasResult 内容阶段是否至少成功过一次
func (j *GenerationJob) HasResult() bool {
	return len(j.Result) > 0 && string(j.Result) != "null"
}

// ToJSON 序列化为 datatypes.JSON
func ToJSON(v interface{}) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
