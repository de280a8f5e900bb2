package models

// CandidateLink is a discovered URL that may point at a subscription payload.
type CandidateLink struct {
	URL      string `json:"url"`
	Owner    string `json:"owner,omitempty"`
	SourceID string `json:"source_id,omitempty"`
	Path     string `json:"path,omitempty"`
	Score    int    `json:"score"`
}

// Reason labels why a payload or a link was rejected.
type Reason string

const (
	ReasonEmptyBody          Reason = "empty_body"
	ReasonTooShort           Reason = "too_short"
	ReasonHTMLPage           Reason = "html_page"
	ReasonErrorPage          Reason = "error_page"
	ReasonTooFewLinks        Reason = "too_few_links"
	ReasonYAMLParse          Reason = "yaml_parse"
	ReasonNotMapping         Reason = "not_mapping"
	ReasonTooFewProxies      Reason = "too_few_proxies"
	ReasonTooFewValidProxies Reason = "too_few_valid_proxies"
	ReasonRemoteProviders    Reason = "remote_providers"
	ReasonNoProxies          Reason = "no_proxies"
	ReasonNotBase64          Reason = "not_base64"
	ReasonBase64Noise        Reason = "base64_noise"
	ReasonNoProtocolLinks    Reason = "no_protocol_links"
	ReasonNoNodes            Reason = "no_nodes"
	ReasonNoLiveNode         Reason = "no_live_node"
)

// Verdict is the outcome of classifying one payload. A zero Verdict is a
// rejection without a reason.
type Verdict struct {
	Accepted bool
	// Check names the sub-check that accepted the payload.
	Check  string
	Reason Reason
}

func Valid(check string) Verdict {
	return Verdict{Accepted: true, Check: check}
}

func Rejected(reason Reason) Verdict {
	return Verdict{Reason: reason}
}

func (v Verdict) String() string {
	if v.Accepted {
		return "valid(" + v.Check + ")"
	}
	return "rejected(" + string(v.Reason) + ")"
}

// ResourceKey is the cached identity and freshness of a retained URL.
type ResourceKey struct {
	OwnerKey string `json:"owner_key"`
	BasePath string `json:"base_path"`
	// Lastmod is the resource's last-modified time in unix seconds.
	Lastmod *int64 `json:"lastmod"`
	// LastmodTS is when Lastmod was sampled, in unix seconds.
	LastmodTS *int64 `json:"lastmod_ts"`
}

// Freshness returns the last-modified timestamp, 0 when unknown.
func (k ResourceKey) Freshness() int64 {
	if k.Lastmod == nil {
		return 0
	}
	return *k.Lastmod
}

// History is the durable state carried between runs.
type History struct {
	Active       []string
	Fail         map[string]int
	Reserve      []string
	ResourceKeys map[string]ResourceKey
	LastTotal    int
	UpdatedAt    int64
}

// NewHistory returns the empty-defaults store.
func NewHistory() History {
	return History{
		Active:       []string{},
		Fail:         map[string]int{},
		Reserve:      []string{},
		ResourceKeys: map[string]ResourceKey{},
	}
}

// Clone returns a deep copy so reconciliation never aliases the input.
func (h History) Clone() History {
	out := History{
		Active:       append([]string{}, h.Active...),
		Fail:         make(map[string]int, len(h.Fail)),
		Reserve:      append([]string{}, h.Reserve...),
		ResourceKeys: make(map[string]ResourceKey, len(h.ResourceKeys)),
		LastTotal:    h.LastTotal,
		UpdatedAt:    h.UpdatedAt,
	}
	for k, v := range h.Fail {
		out.Fail[k] = v
	}
	for k, v := range h.ResourceKeys {
		out.ResourceKeys[k] = v
	}
	return out
}

// Removal is one URL dropped at the liveness/content stage.
type Removal struct {
	URL    string
	Reason string
}

type EvictionCause string

const (
	CauseFailThreshold EvictionCause = "fail_threshold"
	CauseOwnerQuota    EvictionCause = "owner_quota"
)

// Eviction records a transition from active to reserve.
type Eviction struct {
	URL      string
	OwnerKey string
	Cause    EvictionCause
}
