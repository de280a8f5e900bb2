// Package classify decides whether a fetched body is a genuine proxy
// subscription payload.
//
// The classifier is stateless. Apart from the optional sample node check,
// Classify performs no I/O and may be called from any number of goroutines.
package classify

import (
	"context"
	"net/url"
	"strings"
	"time"

	"sub-hunter/pkg/models"
)

// NodeProber reports whether a proxy node accepts a TCP connection.
type NodeProber interface {
	Probe(ctx context.Context, address string) error
}

type Options struct {
	// Minimum counted protocol links for ProtocolText.
	MinV2Links int
	// Minimum length of a Clash proxies list.
	MinClashProxies int
	// Minimum structurally valid entries in a Clash proxies list.
	MinClashValidProxies int
	// Minimum trimmed body length for ProtocolText.
	MinBodyLength int

	// SampleNodeCheck gates the live TCP check in the fallback branch.
	SampleNodeCheck   bool
	SampleNodeCount   int
	SampleNodeTimeout time.Duration
	// Prober is required for the sample check; a nil Prober skips it.
	Prober NodeProber
}

// DefaultOptions returns the thresholds the tool ships with.
func DefaultOptions() Options {
	return Options{
		MinV2Links:           1,
		MinClashProxies:      1,
		MinClashValidProxies: 2,
		MinBodyLength:        30,
		SampleNodeCount:      1,
		SampleNodeTimeout:    2 * time.Second,
	}
}

type Classifier struct {
	opts Options
}

func New(opts Options) *Classifier {
	if opts.SampleNodeCount <= 0 {
		opts.SampleNodeCount = 1
	}
	if opts.SampleNodeTimeout <= 0 {
		opts.SampleNodeTimeout = 2 * time.Second
	}
	return &Classifier{opts: opts}
}

type urlShape int

const (
	shapeOther urlShape = iota
	shapeYAML
	shapeText
	shapeSub
)

func shapeOf(rawURL string) urlShape {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	if i := strings.IndexByte(lower, '#'); i >= 0 {
		lower = lower[:i]
	}
	p := lower
	if u, err := url.Parse(lower); err == nil && u.Path != "" {
		p = u.Path
	}
	switch {
	case strings.HasSuffix(p, ".yaml"), strings.HasSuffix(p, ".yml"):
		return shapeYAML
	case strings.HasSuffix(p, ".txt"):
		return shapeText
	case strings.HasSuffix(p, "/sub"), strings.HasSuffix(lower, "/sub"), strings.HasSuffix(lower, "=sub"):
		return shapeSub
	}
	return shapeOther
}

// Classify returns the verdict for body fetched from rawURL. It never
// panics on malformed input and is deterministic unless the sample node
// check is enabled.
func (c *Classifier) Classify(rawURL, body string) models.Verdict {
	if strings.TrimSpace(body) == "" {
		return models.Rejected(models.ReasonEmptyBody)
	}

	switch shapeOf(rawURL) {
	case shapeYAML:
		return c.StrictClashYAML(body)
	case shapeText:
		return firstValid(
			func() models.Verdict { return c.ProtocolText(body) },
			func() models.Verdict { return c.Base64Subscription(body) },
		)
	case shapeSub:
		if countProtocolLinks(body) == 0 && looksLikeHTML(body) {
			return models.Rejected(models.ReasonHTMLPage)
		}
		if hasErrorPhrase(body) {
			return models.Rejected(models.ReasonErrorPage)
		}
		return c.anyFormat(body)
	}

	v := c.anyFormat(body)
	if !v.Accepted || !c.opts.SampleNodeCheck || c.opts.Prober == nil {
		return v
	}
	return c.sampleNodes(body)
}

func (c *Classifier) anyFormat(body string) models.Verdict {
	return firstValid(
		func() models.Verdict { return c.ProtocolText(body) },
		func() models.Verdict { return c.Base64Subscription(body) },
		func() models.Verdict { return c.StrictClashYAML(body) },
	)
}

// firstValid runs checks in order and returns the first acceptance. When
// every check rejects, the first rejection is reported.
func firstValid(checks ...func() models.Verdict) models.Verdict {
	var first models.Verdict
	for i, check := range checks {
		v := check()
		if v.Accepted {
			return v
		}
		if i == 0 {
			first = v
		}
	}
	return first
}
