// Package resource derives the publisher identity of a URL and picks one
// canonical URL among variants of the same resource.
package resource

import (
	"net/url"
	"path"
	"strings"

	"sub-hunter/pkg/models"
)

// Strategy extracts owner_key and base_path from a parsed URL.
type Strategy func(u *url.URL) (ownerKey, basePath string, ok bool)

// Rule pairs a host matcher with its extraction strategy. Rules are tried
// in order and the first successful extraction wins.
type Rule struct {
	Name    string
	Match   func(host string) bool
	Extract Strategy
}

func hostIs(names ...string) func(string) bool {
	return func(host string) bool {
		for _, n := range names {
			if host == n {
				return true
			}
		}
		return false
	}
}

var DefaultRules = []Rule{
	{Name: "raw-content", Match: hostIs("raw.githubusercontent.com", "raw.fastgit.org"), Extract: rawContent},
	{Name: "github-raw", Match: hostIs("github.com", "www.github.com"), Extract: githubRaw},
	{Name: "jsdelivr", Match: hostIs("cdn.jsdelivr.net", "fastly.jsdelivr.net"), Extract: jsdelivr},
	{Name: "gitlab-raw", Match: hostIs("gitlab.com"), Extract: gitlabRaw},
	{Name: "github-pages", Match: func(h string) bool { return strings.HasSuffix(h, ".github.io") }, Extract: githubPages},
}

func segments(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func stripExt(p string) string {
	return strings.TrimSuffix(p, path.Ext(p))
}

func filePath(rest []string) (string, bool) {
	if len(rest) == 0 {
		return "", false
	}
	return stripExt("/" + strings.Join(rest, "/")), true
}

// skipRef drops a branch, also when it is spelled refs/heads/<branch>.
func skipRef(segs []string) []string {
	if len(segs) >= 3 && segs[0] == "refs" && (segs[1] == "heads" || segs[1] == "tags") {
		return segs[3:]
	}
	if len(segs) >= 2 && segs[0] == "refs" {
		return segs[2:]
	}
	if len(segs) >= 1 {
		return segs[1:]
	}
	return nil
}

// /{owner}/{repo}/{branch}/path
func rawContent(u *url.URL) (string, string, bool) {
	segs := segments(u.Path)
	if len(segs) < 4 {
		return "", "", false
	}
	base, ok := filePath(skipRef(segs[2:]))
	return segs[0] + "/" + segs[1], base, ok
}

// /{owner}/{repo}/raw/{branch}/path
func githubRaw(u *url.URL) (string, string, bool) {
	segs := segments(u.Path)
	if len(segs) < 5 || (segs[2] != "raw" && segs[2] != "blob") {
		return "", "", false
	}
	base, ok := filePath(skipRef(segs[3:]))
	return segs[0] + "/" + segs[1], base, ok
}

// /gh/{owner}/{repo}[@version]/path
func jsdelivr(u *url.URL) (string, string, bool) {
	segs := segments(u.Path)
	if len(segs) < 4 || segs[0] != "gh" {
		return "", "", false
	}
	repo, _, _ := strings.Cut(segs[2], "@")
	base, ok := filePath(segs[3:])
	return segs[1] + "/" + repo, base, ok
}

// /{group}/.../{repo}/-/raw/{branch}/path
func gitlabRaw(u *url.URL) (string, string, bool) {
	segs := segments(u.Path)
	for i := 2; i+3 < len(segs); i++ {
		if segs[i] == "-" && segs[i+1] == "raw" {
			base, ok := filePath(segs[i+3:])
			return strings.Join(segs[:i], "/"), base, ok
		}
	}
	return "", "", false
}

// {user}.github.io is served from the {user}/{user}.github.io repository.
func githubPages(u *url.URL) (string, string, bool) {
	user := strings.TrimSuffix(u.Hostname(), ".github.io")
	if user == "" {
		return "", "", false
	}
	base, ok := filePath(segments(u.Path))
	return user + "/" + u.Hostname(), base, ok
}

type Resolver struct {
	rules []Rule
}

// NewResolver returns a resolver over rules, or DefaultRules when none are
// given.
func NewResolver(rules ...Rule) *Resolver {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Resolver{rules: rules}
}

// Resolve maps rawURL to its owner_key and base_path. Unknown shapes fall
// back to ownerHint and then to the host.
func (r *Resolver) Resolve(rawURL, ownerHint string) models.ResourceKey {
	u, err := url.Parse(Unwrap(strings.TrimSpace(rawURL)))
	if err != nil {
		owner := ownerHint
		if owner == "" {
			owner = rawURL
		}
		return models.ResourceKey{OwnerKey: owner, BasePath: ""}
	}
	host := strings.ToLower(u.Hostname())
	for _, rule := range r.rules {
		if !rule.Match(host) {
			continue
		}
		if owner, base, ok := rule.Extract(u); ok {
			return models.ResourceKey{OwnerKey: owner, BasePath: base}
		}
	}

	base := stripExt(u.Path)
	if ownerHint != "" {
		return models.ResourceKey{OwnerKey: ownerHint, BasePath: base}
	}
	return models.ResourceKey{OwnerKey: host, BasePath: base}
}

// Unwrap strips mirror prefixes such as https://ghproxy.net/https://... by
// keeping the innermost URL. Only a URL that starts the path counts; URLs
// carried in the query or fragment are left alone.
func Unwrap(rawURL string) string {
	for {
		inner, ok := pathEmbedded(rawURL)
		if !ok {
			return rawURL
		}
		rawURL = inner
	}
}

func pathEmbedded(rawURL string) (string, bool) {
	i := strings.Index(rawURL, "://")
	if i < 0 {
		return "", false
	}
	rest := rawURL[i+3:]
	j := strings.IndexAny(rest, "/?#")
	if j < 0 || rest[j] != '/' {
		return "", false
	}
	inner := rest[j+1:]
	lower := strings.ToLower(inner)
	if strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://") {
		return inner, true
	}
	return "", false
}

// Canonicalize unwraps mirror prefixes and rewrites github.com raw and
// blob file URLs onto raw.githubusercontent.com.
func Canonicalize(rawURL string) string {
	inner := Unwrap(strings.TrimSpace(rawURL))
	u, err := url.Parse(inner)
	if err != nil {
		return inner
	}
	host := strings.ToLower(u.Hostname())
	if host != "github.com" && host != "www.github.com" {
		return inner
	}
	segs := segments(u.Path)
	if len(segs) < 5 || (segs[2] != "raw" && segs[2] != "blob") {
		return inner
	}
	rest := segs[3:]
	if len(rest) >= 3 && rest[0] == "refs" && rest[1] == "heads" {
		rest = rest[2:]
	}
	return "https://raw.githubusercontent.com/" + segs[0] + "/" + segs[1] + "/" + strings.Join(rest, "/")
}
