package classify

import (
	"strings"
	"unicode"

	"sub-hunter/pkg/models"
)

const (
	minBase64Length = 16
	maxBase64Noise  = 0.03
)

func isBase64Char(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == '+', r == '/', r == '=', r == '-', r == '_':
		return true
	}
	return false
}

// keepBase64 drops every rune outside the base64 alphabets, whitespace
// included.
func keepBase64(s string) string {
	return strings.Map(func(r rune) rune {
		if isBase64Char(r) {
			return r
		}
		return -1
	}, s)
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Base64Subscription accepts a base64-wrapped list of protocol links, or a
// base64-wrapped Clash document.
func (c *Classifier) Base64Subscription(body string) models.Verdict {
	compact := stripSpace(body)
	if len(compact) < minBase64Length {
		return models.Rejected(models.ReasonTooShort)
	}

	noise, total := 0, 0
	for _, r := range compact {
		total++
		if !isBase64Char(r) {
			noise++
		}
	}
	if float64(noise)/float64(total) > maxBase64Noise {
		return models.Rejected(models.ReasonBase64Noise)
	}

	// Tolerated noise is discarded before decoding.
	raw, ok := decodeBase64(keepBase64(compact))
	if !ok {
		return models.Rejected(models.ReasonNotBase64)
	}
	text := strings.TrimSpace(strings.ToValidUTF8(string(raw), ""))

	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "-") || strings.Contains(text, "proxies") {
		if v := c.StrictClashYAML(text); v.Accepted {
			return models.Valid("base64_clash")
		}
	}

	count := countLooseLinks(text)
	if count == 0 && looksLikeHTML(text) {
		return models.Rejected(models.ReasonHTMLPage)
	}
	if hasErrorPhrase(text) {
		return models.Rejected(models.ReasonErrorPage)
	}
	if count == 0 {
		return models.Rejected(models.ReasonNoProtocolLinks)
	}
	return models.Valid("base64_subscription")
}
