package pipeline

import (
	"net/url"
	"regexp"
	"strings"
)

// LinkStatus 链接分类
type LinkStatus string

const (
	LinkValid     LinkStatus = "valid"
	LinkBroken    LinkStatus = "broken"
	LinkWrongSite LinkStatus = "wrong_site"
	LinkExternal  LinkStatus = "external"
)

// LinkReport 增强阶段的链接统计
type LinkReport struct {
	Total     int              `json:"total"`
	Valid     int              `json:"valid"`
	Broken    int              `json:"broken"`
	WrongSite int              `json:"wrong_site"`
	External  int              `json:"external"`
	Links     []ClassifiedLink `json:"links,omitempty"`
}

// ClassifiedLink 已分类的链接
type ClassifiedLink struct {
	URL    string     `json:"url"`
	Status LinkStatus `json:"status"`
}

// markdownLink 行内链接 [text](url "title"),图片 ![alt](src) 除外
var markdownLink = regexp.MustCompile(`[^!]\[[^\]]*\]\(([^)\s]*)[^)]*\)`)

// ExtractLinks 提取正文中的链接,保持出现顺序并去重
func ExtractLinks(body string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(href string) {
		if !seen[href] {
			seen[href] = true
			out = append(out, href)
		}
	}
	for _, href := range htmlLinks(body) {
		add(strings.TrimSpace(href))
	}
	for _, m := range markdownLink.FindAllStringSubmatch(" "+body, -1) {
		add(strings.TrimSpace(m[1]))
	}
	return out
}

// ClassifyLink 根据站点信息对链接分类
// 相对路径和同站点链接为 valid,兄弟站点为 wrong_site,无法解析的为 broken
func ClassifyLink(href string, site SiteContext) LinkStatus {
	href = strings.TrimSpace(href)
	if href == "" || href == "#" {
		return LinkBroken
	}
	u, err := url.Parse(href)
	if err != nil {
		return LinkBroken
	}
	switch strings.ToLower(u.Scheme) {
	case "javascript", "data":
		return LinkBroken
	case "mailto", "tel":
		return LinkExternal
	}

	if u.Host == "" {
		if u.Scheme != "" {
			return LinkBroken
		}
		if strings.HasPrefix(href, "#") || strings.HasPrefix(href, "/") || u.Path != "" {
			return LinkValid
		}
		return LinkBroken
	}

	host := normalizeHost(u.Host)
	if siteHost := hostOf(site.URL); siteHost != "" && host == siteHost {
		return LinkValid
	}
	for _, sibling := range site.SiblingHosts {
		if host == normalizeHost(sibling) {
			return LinkWrongSite
		}
	}
	return LinkExternal
}

// BuildLinkReport 汇总链接分类,增强服务给出的状态优先
func BuildLinkReport(checks []LinkCheck, site SiteContext) *LinkReport {
	report := &LinkReport{}
	for _, c := range checks {
		status := c.Status
		switch status {
		case LinkValid, LinkBroken, LinkWrongSite, LinkExternal:
		default:
			status = ClassifyLink(c.URL, site)
		}
		report.Links = append(report.Links, ClassifiedLink{URL: c.URL, Status: status})
		report.Total++
		switch status {
		case LinkValid:
			report.Valid++
		case LinkBroken:
			report.Broken++
		case LinkWrongSite:
			report.WrongSite++
		case LinkExternal:
			report.External++
		}
	}
	return report
}

func hostOf(raw string) string {
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return normalizeHost(u.Host)
}

func normalizeHost(host string) string {
	host = strings.ToLower(host)
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	return strings.TrimPrefix(host, "www.")
}
