package pipeline

import (
	"context"
	"fmt"

	"github.com/mautops/genqueue/internal/model"
)

// Phase 流水线阶段
type Phase string

const (
	PhaseContent     Phase = "content"
	PhaseImages      Phase = "images"
	PhaseEnhancement Phase = "enhancement"
	// PhasePublishing 发布由外部完成,仅用于记录失败位置
	PhasePublishing Phase = "publishing"
)

// Ordinal 阶段序号,作为阶段开始事件的 stage_number
func (p Phase) Ordinal() int {
	switch p {
	case PhaseContent:
		return 1
	case PhaseImages:
		return 2
	case PhaseEnhancement:
		return 3
	case PhasePublishing:
		return 4
	}
	return 0
}

// Label 阶段展示名称
func (p Phase) Label() string {
	switch p {
	case PhaseContent:
		return "Content generation"
	case PhaseImages:
		return "Image generation"
	case PhaseEnhancement:
		return "Content enhancement"
	case PhasePublishing:
		return "Publishing"
	}
	return string(p)
}

// ParseTriggerablePhase 解析可以手动触发的阶段
func ParseTriggerablePhase(raw string) (Phase, error) {
	switch Phase(raw) {
	case PhaseImages, PhaseEnhancement:
		return Phase(raw), nil
	}
	return "", fmt.Errorf("%w: phase %q cannot be triggered", model.ErrValidation, raw)
}

// Reporter 阶段内部子步骤进度上报
type Reporter interface {
	Report(stage string, detail string, percent int)
}

// ContentGenerator 内容生成服务
type ContentGenerator interface {
	Generate(ctx context.Context, cfg *model.GenerationConfig, r Reporter) (*model.GenerationResult, error)
}

// ImageRequest 图片生成请求
type ImageRequest struct {
	JobID  string                  `json:"job_id"`
	Config *model.GenerationConfig `json:"config"`
	Result *model.GenerationResult `json:"result"`
}

// ImageGenerator 图片生成服务
type ImageGenerator interface {
	Generate(ctx context.Context, req *ImageRequest, r Reporter) (*model.ImageSet, error)
}

// SiteContext 内链所属站点
type SiteContext struct {
	URL          string   `json:"url"`
	SiblingHosts []string `json:"sibling_hosts,omitempty"`
}

// EnhanceRequest 内容增强请求
type EnhanceRequest struct {
	JobID    string      `json:"job_id"`
	Title    string      `json:"title"`
	Body     string      `json:"body"`
	Keywords []string    `json:"keywords,omitempty"`
	Site     SiteContext `json:"site"`
}

// LinkCheck 增强服务对链接的校验结果,Status 为空时由本地分类
type LinkCheck struct {
	URL    string     `json:"url"`
	Status LinkStatus `json:"status,omitempty"`
}

// EnhanceResult 内容增强结果
type EnhanceResult struct {
	Body            string                 `json:"body"`
	SEOTitle        string                 `json:"seo_title"`
	MetaDescription string                 `json:"meta_description"`
	StructuredData  map[string]interface{} `json:"structured_data,omitempty"`
	Links           []LinkCheck            `json:"links,omitempty"`
}

// ContentEnhancer SEO 与内链增强服务
type ContentEnhancer interface {
	Enhance(ctx context.Context, req *EnhanceRequest, r Reporter) (*EnhanceResult, error)
}

// ArtifactStore 草稿存储,返回草稿 ID
type ArtifactStore interface {
	CreateDraft(ctx context.Context, job *model.GenerationJob, result *model.GenerationResult) (string, error)
}
