package discover

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"sub-hunter/pkg/fetch"
	"sub-hunter/pkg/models"
	"sub-hunter/pkg/resource"

	"github.com/google/go-cmp/cmp"
)

func newFetcher(t *testing.T) *fetch.Client {
	t.Helper()
	c, err := fetch.New(fetch.Options{
		TimeoutSec: 5,
		Limits:     []fetch.HostLimit{{PerMinute: 600000, Burst: 100}},
	}, nil)
	if err != nil {
		t.Fatalf("fetch.New() error = %v", err)
	}
	return c
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><body>
<a href="/a.yaml">clash</a> mirror: %s/b.txt。
<a href="/page.md">more</a> <a href="https://t.me/channel">tg</a>
<a href="/missing.md">gone</a>
</body></html>`, srv.URL)
	})
	mux.HandleFunc("/page.md", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "nodes (%s/deep/sub)\nnext: %s/deeper.md\n", srv.URL, srv.URL)
	})
	mux.HandleFunc("/deeper.md", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("page beyond max depth was fetched")
		fmt.Fprintf(w, "%s/never.yaml\n", srv.URL)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDiscover(t *testing.T) {
	srv := newSite(t)
	d := New(newFetcher(t), resource.NewResolver(), Options{MaxDepth: 1, MaxVisited: 100}, nil)

	got, err := d.Discover(context.Background(), []Seed{{URL: srv.URL + "/", Owner: "alice"}})
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	want := []models.CandidateLink{
		{URL: srv.URL + "/b.txt", Owner: "alice", SourceID: srv.URL + "/", Path: "/b.txt", Score: 2},
		{URL: srv.URL + "/a.yaml", Owner: "alice", SourceID: srv.URL + "/", Path: "/a.yaml", Score: 3},
		{URL: srv.URL + "/deep/sub", Owner: "alice", SourceID: srv.URL + "/page.md", Path: "/deep/sub", Score: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Discover() mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscoverDepthZero(t *testing.T) {
	srv := newSite(t)
	d := New(newFetcher(t), nil, Options{MaxDepth: 0, MaxVisited: 100}, nil)

	got, err := d.Discover(context.Background(), []Seed{{URL: srv.URL + "/", Owner: "alice"}})
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Discover() returned %d candidates, want 2: %v", len(got), got)
	}
}

func TestDiscoverCandidateSeed(t *testing.T) {
	d := New(newFetcher(t), resource.NewResolver(), DefaultOptions(), nil)
	seed := "https://github.com/alice/repo/blob/main/clash.yaml"

	got, err := d.Discover(context.Background(), []Seed{{URL: seed}})
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	want := []models.CandidateLink{{
		URL:      "https://raw.githubusercontent.com/alice/repo/main/clash.yaml",
		Owner:    "alice/repo",
		SourceID: "seed",
		Path:     "/alice/repo/main/clash.yaml",
		Score:    3,
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Discover() mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscoverVisitedCap(t *testing.T) {
	var fetched atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetched.Add(1)
		w.Header().Set("Content-Type", "text/plain")
		for i := 0; i < 10; i++ {
			fmt.Fprintf(w, "%s/p%d-%d.md\n", srv.URL, len(r.URL.Path), i)
		}
	}))
	defer srv.Close()

	d := New(newFetcher(t), nil, Options{MaxDepth: 5, MaxVisited: 3}, nil)
	if _, err := d.Discover(context.Background(), []Seed{{URL: srv.URL + "/"}}); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if n := fetched.Load(); n != 3 {
		t.Errorf("fetched %d pages, want 3", n)
	}
}

func TestDiscoverCancelled(t *testing.T) {
	srv := newSite(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := New(newFetcher(t), nil, DefaultOptions(), nil)
	if _, err := d.Discover(ctx, []Seed{{URL: srv.URL + "/"}}); err == nil {
		t.Errorf("Discover() error = nil, want context error")
	}
}

func TestVisitedSet(t *testing.T) {
	s := newVisitedSet(2)
	steps := []struct {
		url  string
		want bool
	}{
		{"a", true},
		{"a", false},
		{"b", true},
		{"c", false},
	}
	for _, step := range steps {
		if got := s.Add(step.url); got != step.want {
			t.Errorf("Add(%q) = %v, want %v", step.url, got, step.want)
		}
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestExtractLinks(t *testing.T) {
	body := `订阅：https://example.com/a.txt，备用（https://example.com/b.yaml）
<a href="c/sub">x</a> <a href="#top">top</a> <a href="mailto:x@example.com">m</a>`
	got := ExtractLinks("https://example.com/dir/index.html", body, true)
	want := []string{
		"https://example.com/a.txt",
		"https://example.com/b.yaml",
		"https://example.com/dir/c/sub",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ExtractLinks() mismatch (-want +got):\n%s", diff)
	}

	if got := ExtractLinks("https://example.com/", `<a href="/x.txt">x</a>`, false); len(got) != 0 {
		t.Errorf("ExtractLinks() without html = %v, want none", got)
	}
}

func TestIsCandidate(t *testing.T) {
	testCases := []struct {
		url  string
		want bool
	}{
		{"https://example.com/config.yaml", true},
		{"https://example.com/list.TXT", true},
		{"https://example.com/api/v1/client/sub", true},
		{"https://example.com/link?token=abc&flag=sub", true},
		{"https://example.com/clash/latest", true},
		{"https://example.com/readme.md", false},
		{"https://example.com/about", false},
		{"https://github.com/alice/repo/issues/1/nodes.txt", false},
		{"https://t.me/s/freenodes", false},
		{"https://www.youtube.com/watch?v=sub", false},
		{"not a url", false},
	}
	for _, tc := range testCases {
		t.Run(tc.url, func(t *testing.T) {
			if got := IsCandidate(tc.url); got != tc.want {
				t.Errorf("IsCandidate(%q) = %v, want %v", tc.url, got, tc.want)
			}
		})
	}
}

func TestScore(t *testing.T) {
	testCases := []struct {
		url  string
		want int
	}{
		{"https://example.com/a.yml", 3},
		{"https://example.com/a.txt", 2},
		{"https://example.com/sub", 1},
		{"https://example.com/clash", 0},
	}
	for _, tc := range testCases {
		if got := Score(tc.url); got != tc.want {
			t.Errorf("Score(%q) = %d, want %d", tc.url, got, tc.want)
		}
	}
}

func TestParseSeeds(t *testing.T) {
	input := `# seeds
https://example.com/list.md alice

  https://example.org/page   
`
	got, err := ParseSeeds(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseSeeds() error = %v", err)
	}
	want := []Seed{
		{URL: "https://example.com/list.md", Owner: "alice"},
		{URL: "https://example.org/page"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseSeeds() mismatch (-want +got):\n%s", diff)
	}
}
