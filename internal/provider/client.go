package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mautops/genqueue/internal/config"
	"github.com/mautops/genqueue/internal/model"
	"github.com/mautops/genqueue/internal/pipeline"
)

// Client 外部生成服务的 JSON HTTP 客户端
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient 创建客户端,超时由调用方的 context 和 http.Client 共同约束
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// post 发送 JSON 请求并解析响应
func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	// 1. 序列化请求
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	// 2. 创建 HTTP 请求
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	// 3. 发送请求
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	// 4. 检查响应状态码
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// 5. 解析响应
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ContentClient 内容生成服务
type ContentClient struct {
	client *Client
}

// NewContentClient 创建内容生成客户端
func NewContentClient(cfg config.ProvidersConfig) *ContentClient {
	return &ContentClient{client: NewClient(cfg.ContentURL, cfg.APIKey, cfg.Timeout)}
}

// Generate 实现 pipeline.ContentGenerator
func (c *ContentClient) Generate(ctx context.Context, cfg *model.GenerationConfig, r pipeline.Reporter) (*model.GenerationResult, error) {
	r.Report("Requesting content", cfg.Topic, 10)
	var out model.GenerationResult
	if err := c.client.post(ctx, "/v1/generate", cfg, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Body) == "" {
		return nil, fmt.Errorf("content generator returned an empty body")
	}
	r.Report("Content received", "", 90)
	return &out, nil
}

// ImageClient 图片生成服务
type ImageClient struct {
	client *Client
}

// NewImageClient 创建图片生成客户端
func NewImageClient(cfg config.ProvidersConfig) *ImageClient {
	return &ImageClient{client: NewClient(cfg.ImageURL, cfg.APIKey, cfg.Timeout)}
}

// Generate 实现 pipeline.ImageGenerator
func (c *ImageClient) Generate(ctx context.Context, req *pipeline.ImageRequest, r pipeline.Reporter) (*model.ImageSet, error) {
	r.Report("Requesting images", "", 10)
	var out model.ImageSet
	if err := c.client.post(ctx, "/v1/images", req, &out); err != nil {
		return nil, err
	}
	r.Report("Images received", fmt.Sprintf("%d content images", len(out.Content)), 90)
	return &out, nil
}

// EnhancerClient SEO 与内链增强服务
type EnhancerClient struct {
	client *Client
}

// NewEnhancerClient 创建增强服务客户端
func NewEnhancerClient(cfg config.ProvidersConfig) *EnhancerClient {
	return &EnhancerClient{client: NewClient(cfg.EnhancerURL, cfg.APIKey, cfg.Timeout)}
}

// Enhance 实现 pipeline.ContentEnhancer
func (c *EnhancerClient) Enhance(ctx context.Context, req *pipeline.EnhanceRequest, r pipeline.Reporter) (*pipeline.EnhanceResult, error) {
	r.Report("Requesting enhancement", "", 10)
	var out pipeline.EnhanceResult
	if err := c.client.post(ctx, "/v1/enhance", req, &out); err != nil {
		return nil, err
	}
	r.Report("Enhancement received", fmt.Sprintf("%d links checked", len(out.Links)), 90)
	return &out, nil
}
