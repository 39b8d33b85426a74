package pipeline

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// generatedImageAttr 标记由图片阶段插入的 figure
const generatedImageAttr = "data-generated-image"

// walkMarkup 按顺序遍历正文中的 HTML 标记
// fn 收到每个标记及其在正文中的结束位置,返回 false 时停止
func walkMarkup(body string, fn func(z *html.Tokenizer, tt html.TokenType, raw []byte, end int) bool) {
	z := html.NewTokenizer(strings.NewReader(body))
	offset := 0
	for {
		tt := z.Next()
		raw := z.Raw()
		offset += len(raw)
		if !fn(z, tt, raw, offset) || tt == html.ErrorToken {
			return
		}
	}
}

// stripGeneratedFigures 移除带插入标记的 figure 元素及其后的一个换行
func stripGeneratedFigures(body string) string {
	var b strings.Builder
	depth := 0
	trimNewline := false
	walkMarkup(body, func(z *html.Tokenizer, tt html.TokenType, raw []byte, _ int) bool {
		if depth > 0 {
			switch tt {
			case html.StartTagToken:
				if name, _ := z.TagName(); atom.Lookup(name) == atom.Figure {
					depth++
				}
			case html.EndTagToken:
				if name, _ := z.TagName(); atom.Lookup(name) == atom.Figure {
					depth--
					trimNewline = depth == 0
				}
			}
			return true
		}
		if tt == html.StartTagToken && isGeneratedFigure(z) {
			depth = 1
			return true
		}
		if trimNewline && len(raw) > 0 && raw[0] == '\n' {
			raw = raw[1:]
		}
		trimNewline = false
		b.Write(raw)
		return true
	})
	return b.String()
}

func isGeneratedFigure(z *html.Tokenizer) bool {
	name, hasAttr := z.TagName()
	if atom.Lookup(name) != atom.Figure {
		return false
	}
	for hasAttr {
		var key, val []byte
		key, val, hasAttr = z.TagAttr()
		if string(key) == generatedImageAttr && string(val) == "true" {
			return true
		}
	}
	return false
}

// htmlHeadingEnds 返回每个 HTML 标题结束标签之后的位置
// 注释和属性值中的标签不计入
func htmlHeadingEnds(body string) []int {
	var out []int
	walkMarkup(body, func(z *html.Tokenizer, tt html.TokenType, _ []byte, end int) bool {
		if tt == html.EndTagToken {
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
				out = append(out, end)
			}
		}
		return true
	})
	return out
}

// htmlLinks 返回 a 标签的 href,包括未加引号的属性值
func htmlLinks(body string) []string {
	var out []string
	walkMarkup(body, func(z *html.Tokenizer, tt html.TokenType, _ []byte, _ int) bool {
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			return true
		}
		name, hasAttr := z.TagName()
		if atom.Lookup(name) != atom.A {
			return true
		}
		for hasAttr {
			var key, val []byte
			key, val, hasAttr = z.TagAttr()
			if string(key) == "href" {
				out = append(out, string(val))
			}
		}
		return true
	})
	return out
}

// htmlText 提取纯文本,块级元素结束处分段,跳过标题、图片和脚本
func htmlText(body string) string {
	var b strings.Builder
	skip := 0
	walkMarkup(body, func(z *html.Tokenizer, tt html.TokenType, _ []byte, _ int) bool {
		switch tt {
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch {
			case a == atom.Br:
				b.WriteString("\n")
			case tt == html.StartTagToken && skippedText(a):
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch {
			case skippedText(a):
				if skip > 0 {
					skip--
				}
				b.WriteString("\n\n")
			case blockElement(a):
				b.WriteString("\n\n")
			}
		}
		return true
	})
	return b.String()
}

func skippedText(a atom.Atom) bool {
	switch a {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Figure, atom.Script, atom.Style:
		return true
	}
	return false
}

func blockElement(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Li, atom.Blockquote, atom.Section, atom.Article, atom.Pre, atom.Table:
		return true
	}
	return false
}
