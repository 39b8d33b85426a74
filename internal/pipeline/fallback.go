package pipeline

import (
	"strings"
	"unicode/utf8"

	"github.com/mautops/genqueue/internal/model"
)

// ExcerptLength 自动摘要的最大字符数
const ExcerptLength = 160

// FirstNonEmpty 返回第一个去除空白后非空的候选值
func FirstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if s := strings.TrimSpace(c); s != "" {
			return s
		}
	}
	return ""
}

// ResolveTitle 标题候选: result.title, metadata.seoTitle, config.topic
func ResolveTitle(result *model.GenerationResult, cfg *model.GenerationConfig) string {
	var title, seo, topic string
	if result != nil {
		title = result.Title
		seo = result.MetadataString("seoTitle")
	}
	if cfg != nil {
		topic = cfg.Topic
	}
	return FirstNonEmpty(title, seo, topic)
}

// ResolveExcerpt 摘要候选: result.excerpt, metadata.metaDescription, 正文第一段
func ResolveExcerpt(result *model.GenerationResult) string {
	if result == nil {
		return ""
	}
	return FirstNonEmpty(
		result.Excerpt,
		result.MetadataString("metaDescription"),
		truncateRunes(firstParagraph(result.Body), ExcerptLength),
	)
}

// firstParagraph 提取正文第一段纯文本,跳过标题和图片
func firstParagraph(body string) string {
	for _, block := range strings.Split(htmlText(body), "\n\n") {
		var lines []string
		for _, line := range strings.Split(block, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "![") {
				continue
			}
			lines = append(lines, line)
		}
		if len(lines) > 0 {
			return strings.Join(strings.Fields(strings.Join(lines, " ")), " ")
		}
	}
	return ""
}

// truncateRunes 按字符截断,截断时在单词边界追加省略号
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:max])
	if i := strings.LastIndex(cut, " "); i > max/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "…"
}
