package discover

import (
	"net/url"
	"path"
	"strings"
)

var blacklist = []string{
	"forums/topic/", "forum.php", "/thread-", "/viewtopic.php",
	"/showthread.php", "/discussion/", "/releases", "/issues/", "/pull/",
	"/wiki/", "/docs/", "/download/", "/archive/", "/blob/", "/commit/",
	"/compare/", "youtube.com", "youtu.be", "bilibili.com", "telegram.me",
	"t.me/", "discord.gg", "twitter.com", "easylist", "adguard",
	"sub-web.netlify.app",
}

var keywords = []string{"sub", "clash", "v2ray", "proxies", "nodes"}

var suffixes = map[string]int{".yaml": 3, ".yml": 3, ".txt": 2}

var pageExts = map[string]bool{"": true, ".md": true, ".html": true, ".htm": true}

func ext(p string) string {
	return strings.ToLower(path.Ext(path.Base(p)))
}

func blacklisted(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, pattern := range blacklist {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// IsCandidate reports whether rawURL looks like a subscription payload
// rather than a page or an unrelated resource.
func IsCandidate(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || blacklisted(rawURL) {
		return false
	}
	p := strings.ToLower(u.Path)
	e := ext(p)
	if _, ok := suffixes[e]; ok {
		return true
	}
	lower := strings.ToLower(rawURL)
	if strings.HasSuffix(lower, "/sub") || strings.HasSuffix(lower, "=sub") {
		return true
	}
	if e == ".md" || e == ".html" || e == ".htm" {
		return false
	}
	for _, k := range keywords {
		if strings.Contains(p, k) {
			return true
		}
	}
	return false
}

// Score ranks candidates by how likely their shape is a subscription.
func Score(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	if s, ok := suffixes[ext(u.Path)]; ok {
		return s
	}
	if strings.Contains(strings.ToLower(rawURL), "sub") {
		return 1
	}
	return 0
}

// followable reports whether link is a same-host page worth fetching for
// more links.
func followable(pageURL, link string) bool {
	page, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	u, err := url.Parse(link)
	if err != nil || blacklisted(link) {
		return false
	}
	if !strings.EqualFold(page.Hostname(), u.Hostname()) {
		return false
	}
	return pageExts[ext(u.Path)]
}
