package classify

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"sub-hunter/pkg/models"
)

// ProxyEntry is one element of a Clash proxies list: either a RawLink or a
// Structured mapping.
type ProxyEntry interface {
	Valid() bool
}

// RawLink is a proxies entry written as a protocol URI.
type RawLink string

// Structured is a proxies entry written as a mapping.
type Structured struct {
	Type   string
	Fields map[string]any
}

var rawPrefixes = []string{
	"vless://", "trojan://", "ssr://", "ss://",
	"hysteria://", "hysteria2://", "hy2://", "tuic://",
}

func (l RawLink) Valid() bool {
	s := strings.TrimSpace(string(l))
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "vmess://") {
		_, ok := decodeVMess(s[len("vmess://"):])
		return ok
	}
	for _, p := range rawPrefixes {
		if strings.HasPrefix(lower, p) && len(s) > len(p) {
			return true
		}
	}
	return false
}

var addressKeys = []string{"add", "server", "host", "address"}

type fieldRule func(Structured) bool

func anyOf(keys ...string) fieldRule {
	return func(s Structured) bool {
		for _, k := range keys {
			if s.has(k) {
				return true
			}
		}
		return false
	}
}

// typeRules holds the minimal field set per recognized proxy type.
var typeRules = map[string]fieldRule{
	"vmess":       anyOf("id", "uuid", "ps", "port"),
	"vless":       anyOf("id", "uuid", "ps", "port"),
	"trojan":      anyOf("id", "uuid", "ps", "port"),
	"ss":          anyOf("cipher", "password", "address"),
	"shadowsocks": anyOf("cipher", "password", "address"),
	"ssr":         anyOf("cipher", "password", "address"),
	"socks5":      anyOf("port", "address"),
	"socks":       anyOf("port", "address"),
	"http":        anyOf("port", "address"),
	"https":       anyOf("port", "address"),
	"hysteria":    anyOf("port", "address"),
	"hysteria2":   anyOf("port", "address"),
	"tuic":        anyOf("port", "address"),
	"wireguard":   anyOf("port", "address"),
}

func (s Structured) has(key string) bool {
	v, ok := s.Fields[key]
	if !ok || v == nil {
		return false
	}
	if str, ok := v.(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return true
}

func (s Structured) Valid() bool {
	if s.has("port") {
		for _, k := range addressKeys {
			if s.has(k) {
				return true
			}
		}
	}
	rule, ok := typeRules[strings.ToLower(s.Type)]
	return ok && rule(s)
}

// Address returns host:port for entries that name both.
func (s Structured) Address() string {
	host := ""
	for _, k := range addressKeys {
		if v := scalarString(s.Fields[k]); v != "" {
			host = v
			break
		}
	}
	port := scalarString(s.Fields["port"])
	if host == "" || port == "" {
		return ""
	}
	return joinHostPort(host, port)
}

// parseEntry converts a decoded YAML node into a ProxyEntry.
func parseEntry(node any) (ProxyEntry, bool) {
	switch v := node.(type) {
	case string:
		return RawLink(v), true
	default:
		fields, ok := asMap(v)
		if !ok {
			return nil, false
		}
		return Structured{Type: scalarString(fields["type"]), Fields: fields}, true
	}
}

// asMap normalizes the two mapping shapes yaml.v3 may produce.
func asMap(node any) (map[string]any, bool) {
	switch m := node.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[fmt.Sprint(k)] = v
		}
		return out, true
	}
	return nil, false
}

func parseClash(body string) (map[string]any, models.Reason) {
	var root any
	if err := yaml.Unmarshal([]byte(body), &root); err != nil {
		return nil, models.ReasonYAMLParse
	}
	doc, ok := asMap(root)
	if !ok {
		return nil, models.ReasonNotMapping
	}
	return doc, ""
}

// StrictClashYAML accepts Clash documents whose proxies, or the inline
// proxies of a provider, meet the configured validity bar. Providers that
// only reference a remote URL are rejected.
func (c *Classifier) StrictClashYAML(body string) models.Verdict {
	doc, reason := parseClash(body)
	if reason != "" {
		return models.Rejected(reason)
	}

	if node, ok := doc["proxies"]; ok {
		list, ok := node.([]any)
		if !ok {
			return models.Rejected(models.ReasonNoProxies)
		}
		return c.checkProxies(list, "clash_yaml")
	}

	providers, ok := asMap(doc["proxy-providers"])
	if !ok {
		return models.Rejected(models.ReasonNoProxies)
	}
	verdict := models.Rejected(models.ReasonRemoteProviders)
	for _, p := range providers {
		provider, ok := asMap(p)
		if !ok {
			continue
		}
		list, ok := provider["proxies"].([]any)
		if !ok {
			continue
		}
		v := c.checkProxies(list, "clash_provider")
		if v.Accepted {
			return v
		}
		verdict = v
	}
	return verdict
}

func (c *Classifier) checkProxies(list []any, check string) models.Verdict {
	if len(list) < c.opts.MinClashProxies || len(list) == 0 {
		return models.Rejected(models.ReasonTooFewProxies)
	}
	valid := 0
	for _, node := range list {
		if entry, ok := parseEntry(node); ok && entry.Valid() {
			valid++
		}
	}
	if valid < c.opts.MinClashValidProxies {
		return models.Rejected(models.ReasonTooFewValidProxies)
	}
	return models.Valid(check)
}
