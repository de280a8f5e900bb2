package discover

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var urlPattern = regexp.MustCompile(`(?i)https?://[^\s"'<>，。、；：！？《》〈〉「」『』【】（）“”]+`)

const (
	headTrim = "([\"'`《〈「『【（“”"
	tailTrim = ")>\"'`，。、；：！？》〉」』】）“”.,;:!?]"
)

// Normalize trims surrounding whitespace and the punctuation that text
// commonly wraps around a pasted URL.
func Normalize(raw string) string {
	u := strings.TrimSpace(raw)
	u = strings.TrimLeft(u, headTrim)
	u = strings.TrimRight(u, tailTrim)
	return u
}

// ExtractLinks returns the absolute http(s) URLs mentioned in body in order
// of first appearance. When isHTML is set the <a href> values are resolved
// against baseURL as well.
func ExtractLinks(baseURL, body string, isHTML bool) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(raw string) {
		u := Normalize(raw)
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}

	for _, m := range urlPattern.FindAllString(body, -1) {
		add(m)
	}
	if isHTML {
		for _, href := range hrefs(baseURL, body) {
			add(href)
		}
	}
	return out
}

func hrefs(baseURL, body string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}

	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if !strings.EqualFold(a.Key, "href") {
					continue
				}
				href := strings.TrimSpace(a.Val)
				if href == "" || strings.HasPrefix(href, "#") {
					continue
				}
				u, err := url.Parse(href)
				if err != nil {
					continue
				}
				resolved := base.ResolveReference(u)
				switch strings.ToLower(resolved.Scheme) {
				case "http", "https":
				default:
					continue
				}
				resolved.Fragment = ""
				out = append(out, resolved.String())
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}
