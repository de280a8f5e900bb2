package resource

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"sub-hunter/pkg/models"
)

func TestResolve(t *testing.T) {
	r := NewResolver()

	testCases := []struct {
		name  string
		url   string
		hint  string
		owner string
		base  string
	}{
		{"raw content", "https://raw.githubusercontent.com/alice/subs/main/out/clash.yaml", "", "alice/subs", "/out/clash"},
		{"raw content refs heads", "https://raw.githubusercontent.com/alice/subs/refs/heads/main/v2ray.txt", "", "alice/subs", "/v2ray"},
		{"fastgit", "https://raw.fastgit.org/alice/subs/master/sub.txt", "", "alice/subs", "/sub"},
		{"github raw", "https://github.com/alice/subs/raw/main/out/clash.yml", "", "alice/subs", "/out/clash"},
		{"github raw refs", "https://github.com/alice/subs/raw/refs/heads/dev/a.txt", "", "alice/subs", "/a"},
		{"jsdelivr versioned", "https://cdn.jsdelivr.net/gh/alice/subs@main/out/clash.yaml", "", "alice/subs", "/out/clash"},
		{"jsdelivr plain", "https://cdn.jsdelivr.net/gh/alice/subs/nodes.txt", "", "alice/subs", "/nodes"},
		{"gitlab", "https://gitlab.com/team/sub/proj/-/raw/main/list.txt", "", "team/sub/proj", "/list"},
		{"github pages", "https://bob.github.io/uploads/2024/sub.txt", "", "bob/bob.github.io", "/uploads/2024/sub"},
		{"mirror wrapped", "https://ghproxy.net/https://raw.githubusercontent.com/alice/subs/main/a.txt", "", "alice/subs", "/a"},
		{"nested mirrors", "https://a.example/https://ghproxy.net/https://raw.githubusercontent.com/alice/subs/main/a.txt", "", "alice/subs", "/a"},
		{"url in query", "https://sub.example.com/api/v1/client/subscribe?token=abc&redirect=https://evil.example/x.txt", "", "sub.example.com", "/api/v1/client/subscribe"},
		{"url in query with hint", "https://conv.example/sub?target=clash&url=https://raw.githubusercontent.com/alice/subs/main/a.txt", "pub", "pub", "/sub"},
		{"short raw path uses hint", "https://raw.githubusercontent.com/alice/subs", "alice", "alice", "/alice/subs"},
		{"unknown host with hint", "https://example.com/api/sub.txt", "pub", "pub", "/api/sub"},
		{"unknown host", "https://Example.com/api/sub.txt", "", "example.com", "/api/sub"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := r.Resolve(tc.url, tc.hint)
			want := models.ResourceKey{OwnerKey: tc.owner, BasePath: tc.base}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Resolve(%q) mismatch (-want +got):\n%s", tc.url, diff)
			}
		})
	}
}

func TestResolveCustomRules(t *testing.T) {
	r := NewResolver(Rule{
		Name:    "mirror",
		Match:   hostIs("mirror.example"),
		Extract: jsdelivr,
	})
	got := r.Resolve("https://mirror.example/gh/a/b@v1/c.txt", "")
	if got.OwnerKey != "a/b" || got.BasePath != "/c" {
		t.Errorf("Resolve() = %+v, want a/b /c", got)
	}
	// Default rules are not consulted.
	got = r.Resolve("https://raw.githubusercontent.com/a/b/main/c.txt", "")
	if got.OwnerKey != "raw.githubusercontent.com" {
		t.Errorf("Resolve() owner = %q, want host fallback", got.OwnerKey)
	}
}

func TestUnwrap(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"https://ghproxy.net/https://raw.githubusercontent.com/a/b/main/x.txt", "https://raw.githubusercontent.com/a/b/main/x.txt"},
		{"https://m1.example/http://m2.example/https://c.example/x.txt?t=1", "https://c.example/x.txt?t=1"},
		{"https://c.example/sub?url=https://d.example/x.txt", "https://c.example/sub?url=https://d.example/x.txt"},
		{"https://c.example/dir/https://d.example/x.txt", "https://c.example/dir/https://d.example/x.txt"},
		{"https://c.example", "https://c.example"},
		{"not a url", "not a url"},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			if got := Unwrap(tc.in); got != tc.want {
				t.Errorf("Unwrap() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCanonicalize(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"https://github.com/a/b/raw/main/x.txt", "https://raw.githubusercontent.com/a/b/main/x.txt"},
		{"https://github.com/a/b/raw/refs/heads/main/x.txt", "https://raw.githubusercontent.com/a/b/main/x.txt"},
		{"https://github.com/a/b/blob/main/dir/x.yaml", "https://raw.githubusercontent.com/a/b/main/dir/x.yaml"},
		{"https://ghproxy.net/https://github.com/a/b/raw/main/x.txt", "https://raw.githubusercontent.com/a/b/main/x.txt"},
		{"https://github.com/a/b", "https://github.com/a/b"},
		{"https://example.com/sub?token=1", "https://example.com/sub?token=1"},
		{"https://sub.example.com/api/v1/client/subscribe?token=abc&redirect=https://evil.example/x.txt", "https://sub.example.com/api/v1/client/subscribe?token=abc&redirect=https://evil.example/x.txt"},
		{"https://conv.example/sub?target=clash&url=https://github.com/a/b/raw/main/x.txt", "https://conv.example/sub?target=clash&url=https://github.com/a/b/raw/main/x.txt"},
		{"https://example.com/page#https://evil.example/x.txt", "https://example.com/page#https://evil.example/x.txt"},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			if got := Canonicalize(tc.in); got != tc.want {
				t.Errorf("Canonicalize() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestChooseCanonical(t *testing.T) {
	r := NewResolver()
	links := []models.CandidateLink{
		{URL: "https://raw.githubusercontent.com/a/b/main/sub.yaml"},
		{URL: "https://example.com/sub?token=1"},
		{URL: "https://cdn.jsdelivr.net/gh/a/b@main/sub.txt"},
		{URL: "https://raw.githubusercontent.com/a/b/main/sub.txt"},
		{URL: "https://example.com/sub?token=2"},
		{URL: "https://github.com/c/d/raw/main/clash.yaml"},
		{URL: "https://raw.githubusercontent.com/c/d/main/clash.yaml"},
		{URL: "https://cdn.jsdelivr.net/gh/c/d/clash.yml"},
	}

	want := []models.CandidateLink{
		{URL: "https://raw.githubusercontent.com/a/b/main/sub.txt"},
		{URL: "https://example.com/sub?token=1"},
		{URL: "https://example.com/sub?token=2"},
		{URL: "https://raw.githubusercontent.com/c/d/main/clash.yaml"},
	}
	if diff := cmp.Diff(want, r.ChooseCanonical(links)); diff != "" {
		t.Errorf("ChooseCanonical() mismatch (-want +got):\n%s", diff)
	}
}
