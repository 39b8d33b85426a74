package pipeline

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"

	"github.com/mautops/genqueue/internal/model"
)

// markdownHeading ATX 标题行,正文按原文拼接,不经过渲染
var markdownHeading = regexp.MustCompile(`(?m)^#{1,6}[ \t].*$`)

// StripInsertedImages 移除之前插入的图片标记
func StripInsertedImages(body string) string {
	return stripGeneratedFigures(body)
}

// InsertImages 将图片标记插入正文
//
// 特色图放在正文开头;内容图放在标题之后,第 i 张放在第 floor(i*H/K) 个标题后,
// H 为标题数,K 为图片数;没有标题时追加到正文末尾。
// 插入前先移除旧的插入结果,重复执行结果不变。
func InsertImages(body string, images *model.ImageSet) string {
	body = StripInsertedImages(body)
	if images == nil {
		return body
	}

	if len(images.Content) > 0 {
		boundaries := headingBoundaries(body)
		if len(boundaries) == 0 {
			if body != "" && !strings.HasSuffix(body, "\n") {
				body += "\n"
			}
			for _, img := range images.Content {
				body += figure(img, "content")
			}
		} else {
			inserts := make(map[int][]string)
			k := len(images.Content)
			h := len(boundaries)
			for i, img := range images.Content {
				pos := boundaries[(i*h)/k]
				inserts[pos] = append(inserts[pos], figure(img, "content"))
			}
			body = spliceAt(body, inserts)
		}
	}

	if images.Featured != nil && images.Featured.URL != "" {
		body = figure(*images.Featured, "featured") + body
	}
	return body
}

// headingBoundaries 返回每个标题结束后的位置
// 优先使用 HTML 标题,没有时使用 Markdown 标题行
func headingBoundaries(body string) []int {
	out := htmlHeadingEnds(body)
	if len(out) > 0 {
		return out
	}
	for _, m := range markdownHeading.FindAllStringIndex(body, -1) {
		end := m[1]
		if end < len(body) && body[end] == '\n' {
			end++
		}
		out = append(out, end)
	}
	return out
}

// spliceAt 在指定位置插入文本
func spliceAt(body string, inserts map[int][]string) string {
	positions := make([]int, 0, len(inserts))
	for pos := range inserts {
		positions = append(positions, pos)
	}
	sort.Ints(positions)

	var b strings.Builder
	last := 0
	for _, pos := range positions {
		b.WriteString(body[last:pos])
		if pos == len(body) && pos > 0 && body[pos-1] != '\n' {
			b.WriteString("\n")
		}
		for _, s := range inserts[pos] {
			b.WriteString(s)
		}
		last = pos
	}
	b.WriteString(body[last:])
	return b.String()
}

// figure 生成图片标记
func figure(img model.Image, class string) string {
	return fmt.Sprintf("<figure %s=\"true\" class=\"%s\"><img src=\"%s\" alt=\"%s\" /></figure>\n",
		generatedImageAttr, class, html.EscapeString(img.URL), html.EscapeString(img.Alt))
}
