package classify

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"sub-hunter/pkg/models"
)

var (
	errorPhrase = regexp.MustCompile(`(?i)404\s+not\s+found|page\s+not\s+found|access\s+denied|403\s+forbidden|captcha|sign\s*in|required\s*login|login\s*required|permission\s+denied`)

	vmessLink = regexp.MustCompile(`(?i)vmess://([A-Za-z0-9+/=_-]{8,})`)
	// Counted without decoding. ss:// inside vmess:// is excluded by \b.
	plainLink = regexp.MustCompile(`(?i)\b(?:vless|trojan|ssr|ss)://`)
	anyLink   = regexp.MustCompile(`(?i)\b(?:vmess|vless|trojan|ssr|ss)://`)
)

// ProtocolText accepts bodies carrying raw protocol links.
func (c *Classifier) ProtocolText(body string) models.Verdict {
	text := strings.TrimSpace(body)
	if len(text) < c.opts.MinBodyLength {
		return models.Rejected(models.ReasonTooShort)
	}

	count := countProtocolLinks(text)
	if count == 0 && looksLikeHTML(text) {
		return models.Rejected(models.ReasonHTMLPage)
	}
	if hasErrorPhrase(text) {
		return models.Rejected(models.ReasonErrorPage)
	}
	if count == 0 {
		return models.Rejected(models.ReasonNoProtocolLinks)
	}
	if count < c.opts.MinV2Links {
		return models.Rejected(models.ReasonTooFewLinks)
	}
	return models.Valid("protocol_text")
}

// countProtocolLinks counts decodable vmess links and every vless, trojan,
// ss and ssr occurrence.
func countProtocolLinks(text string) int {
	n := len(plainLink.FindAllStringIndex(text, -1))
	for _, m := range vmessLink.FindAllStringSubmatch(text, -1) {
		if _, ok := decodeVMess(m[1]); ok {
			n++
		}
	}
	return n
}

// countLooseLinks counts every protocol prefix, vmess included.
func countLooseLinks(text string) int {
	return len(anyLink.FindAllStringIndex(text, -1))
}

func hasErrorPhrase(text string) bool {
	return errorPhrase.MatchString(text)
}

// looksLikeHTML reports whether text carries a doctype or an html, head or
// body tag.
func looksLikeHTML(text string) bool {
	if !strings.Contains(text, "<") {
		return false
	}
	z := html.NewTokenizer(strings.NewReader(text))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.DoctypeToken:
			return true
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "html", "head", "body":
				return true
			}
		}
	}
}

type vmessNode struct {
	Host string
	Port string
}

func (n vmessNode) Address() string {
	return joinHostPort(n.Host, n.Port)
}

// decodeVMess decodes the base64 JSON body of a vmess link. The JSON must
// name an address, a port and an id.
func decodeVMess(payload string) (vmessNode, bool) {
	raw, ok := decodeBase64(payload)
	if !ok {
		return vmessNode{}, false
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return vmessNode{}, false
	}
	host := firstString(fields, "add", "address", "server", "host")
	port := scalarString(fields["port"])
	id := firstString(fields, "id", "uuid")
	if host == "" || port == "" || id == "" {
		return vmessNode{}, false
	}
	return vmessNode{Host: host, Port: port}, true
}

// decodeBase64 pads s and tries the standard then the URL-safe alphabet.
func decodeBase64(s string) ([]byte, bool) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	if len(s)%4 == 1 {
		return nil, false
	}
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return raw, true
	}
	if raw, err := base64.URLEncoding.DecodeString(s); err == nil {
		return raw, true
	}
	return nil, false
}

func firstString(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := scalarString(fields[k]); v != "" {
			return v
		}
	}
	return ""
}

// scalarString renders strings and numbers; anything else is empty.
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case int, int64, uint64, float64:
		return fmt.Sprint(t)
	case json.Number:
		return t.String()
	}
	return ""
}
