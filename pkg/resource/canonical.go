package resource

import (
	"net/url"
	"path"
	"strings"

	"sub-hunter/pkg/models"
)

// HostPriority orders hosts serving the same file, most preferred first.
var HostPriority = []string{
	"raw.githubusercontent.com",
	"cdn.jsdelivr.net",
	"raw.fastgit.org",
	"ghproxy.net",
	"proxy.v2gh.com",
	"github.com",
}

func hostRank(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return len(HostPriority)
	}
	host := strings.ToLower(u.Hostname())
	for i, h := range HostPriority {
		if host == h {
			return i
		}
	}
	return len(HostPriority)
}

func extRank(rawURL string) int {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".txt":
		return 0
	case ".yaml", ".yml":
		return 1
	}
	return 2
}

// better reports whether a should replace b as the canonical variant.
func better(a, b string) bool {
	if ea, eb := extRank(a), extRank(b); ea != eb {
		return ea < eb
	}
	return hostRank(a) < hostRank(b)
}

// groupKey keeps the query so that distinct tokens on one endpoint are not
// merged.
func (r *Resolver) groupKey(link models.CandidateLink) string {
	k := r.Resolve(link.URL, link.Owner)
	query := ""
	if u, err := url.Parse(Unwrap(link.URL)); err == nil {
		query = u.RawQuery
	}
	return k.OwnerKey + "\x00" + k.BasePath + "\x00" + query
}

// ChooseCanonical keeps one link per (owner_key, base_path) group. A .txt
// variant beats .yaml/.yml, then HostPriority decides, then first seen.
// Groups are returned in order of first appearance.
func (r *Resolver) ChooseCanonical(links []models.CandidateLink) []models.CandidateLink {
	index := map[string]int{}
	var out []models.CandidateLink
	for _, link := range links {
		key := r.groupKey(link)
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, link)
			continue
		}
		if better(link.URL, out[i].URL) {
			out[i] = link
		}
	}
	return out
}
