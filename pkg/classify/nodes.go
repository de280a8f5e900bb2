package classify

import (
	"context"
	"net"
	"net/url"
	"regexp"
	"strings"

	"sub-hunter/pkg/models"
)

var (
	authorityLink = regexp.MustCompile(`(?i)\b(?:vless|trojan)://[^@\s]+@([^:/\s?#]+):(\d+)`)
	ssLink        = regexp.MustCompile(`(?i)\bss://[^\s"'<>]+`)
)

func joinHostPort(host, port string) string {
	return net.JoinHostPort(strings.Trim(host, "[]"), port)
}

// ExtractNodes returns the distinct host:port pairs named by the protocol
// links or Clash entries in text, in order of appearance.
func ExtractNodes(text string) []string {
	var nodes []string
	seen := map[string]bool{}
	add := func(addr string) {
		if addr != "" && !seen[addr] {
			seen[addr] = true
			nodes = append(nodes, addr)
		}
	}

	for _, m := range vmessLink.FindAllStringSubmatch(text, -1) {
		if n, ok := decodeVMess(m[1]); ok {
			add(n.Address())
		}
	}
	for _, m := range authorityLink.FindAllStringSubmatch(text, -1) {
		add(joinHostPort(m[1], m[2]))
	}
	for _, link := range ssLink.FindAllString(text, -1) {
		add(parseSSAddress(link))
	}

	if doc, reason := parseClash(text); reason == "" {
		if list, ok := doc["proxies"].([]any); ok {
			for _, node := range list {
				if entry, ok := parseEntry(node); ok {
					if s, ok := entry.(Structured); ok {
						add(s.Address())
					}
				}
			}
		}
	}
	return nodes
}

// parseSSAddress handles both the SIP002 form
// ss://base64(method:password)@host:port and the legacy form
// ss://base64(method:password@host:port).
func parseSSAddress(link string) string {
	rest := link[len("ss://"):]
	if i := strings.IndexAny(rest, "#?"); i >= 0 {
		rest = rest[:i]
	}
	if !strings.Contains(rest, "@") {
		raw, ok := decodeBase64(strings.TrimSuffix(rest, "/"))
		if !ok {
			return ""
		}
		rest = string(raw)
	}
	u, err := url.Parse("ss://" + rest)
	if err != nil || u.Hostname() == "" || u.Port() == "" {
		return ""
	}
	return joinHostPort(u.Hostname(), u.Port())
}

// sampleNodes accepts the body when one of the first SampleNodeCount nodes
// accepts a TCP connection.
func (c *Classifier) sampleNodes(body string) models.Verdict {
	nodes := ExtractNodes(body)
	if len(nodes) == 0 {
		if raw, ok := decodeBase64(keepBase64(body)); ok {
			nodes = ExtractNodes(string(raw))
		}
	}
	if len(nodes) == 0 {
		return models.Rejected(models.ReasonNoNodes)
	}
	if len(nodes) > c.opts.SampleNodeCount {
		nodes = nodes[:c.opts.SampleNodeCount]
	}
	for _, addr := range nodes {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.SampleNodeTimeout)
		err := c.opts.Prober.Probe(ctx, addr)
		cancel()
		if err == nil {
			return models.Valid("sample_node")
		}
	}
	return models.Rejected(models.ReasonNoLiveNode)
}
