package retention

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"sub-hunter/pkg/history"
	"sub-hunter/pkg/models"
	"sub-hunter/pkg/resource"
)

type fakeSampler struct {
	stamps map[string]int64
	asked  []string
}

func (f *fakeSampler) Sample(ctx context.Context, urls []string, cache map[string]models.ResourceKey) map[string]models.ResourceKey {
	f.asked = append(f.asked, urls...)
	out := map[string]models.ResourceKey{}
	for _, u := range urls {
		ts, ok := f.stamps[u]
		if !ok {
			continue
		}
		key := cache[u]
		key.Lastmod = &ts
		out[u] = key
	}
	return out
}

func newTestEngine(sampler Sampler) *Engine {
	e := NewEngine(resource.NewResolver(), sampler, nil)
	e.now = func() time.Time { return time.Unix(1700000000, 0) }
	return e
}

func rawURL(owner string, n int) string {
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/repo/main/n%d.txt", owner, n)
}

func TestReconcileStable(t *testing.T) {
	e := newTestEngine(nil)
	p := Policy{FailThreshold: 3, PerOwnerLimit: 5}
	valid := []string{rawURL("a", 1), rawURL("b", 1), rawURL("c", 1)}

	first := e.Reconcile(context.Background(), valid, models.NewHistory(), p)
	second := e.Reconcile(context.Background(), valid, first.History, p)

	if diff := cmp.Diff(valid, second.Active); diff != "" {
		t.Errorf("Active mismatch (-want +got):\n%s", diff)
	}
	if len(second.History.Fail) != 0 {
		t.Errorf("Fail = %v, want empty", second.History.Fail)
	}
	if diff := cmp.Diff(first.History.Reserve, second.History.Reserve); diff != "" {
		t.Errorf("Reserve changed (-first +second):\n%s", diff)
	}
	if len(second.Admitted) != 0 {
		t.Errorf("Admitted = %v, want none on second run", second.Admitted)
	}
}

func TestReconcileFailThreshold(t *testing.T) {
	e := newTestEngine(nil)
	p := Policy{FailThreshold: 3}
	a, b := rawURL("a", 1), rawURL("b", 1)

	h := e.Reconcile(context.Background(), []string{a, b}, models.NewHistory(), p).History
	for run := 1; run <= 3; run++ {
		out := e.Reconcile(context.Background(), []string{a}, h, p)
		h = out.History
		inActive := contains(h.Active, b)
		inReserve := contains(h.Reserve, b)
		if run < 3 {
			if !inActive || inReserve {
				t.Fatalf("run %d: active=%v reserve=%v, want retained", run, inActive, inReserve)
			}
			if h.Fail[b] != run {
				t.Errorf("run %d: Fail[b] = %d, want %d", run, h.Fail[b], run)
			}
			continue
		}
		if inActive || !inReserve {
			t.Fatalf("run %d: active=%v reserve=%v, want reserved", run, inActive, inReserve)
		}
		if _, ok := h.Fail[b]; ok {
			t.Errorf("run %d: Fail still tracks evicted link", run)
		}
		want := []models.Eviction{{URL: b, OwnerKey: "b/repo", Cause: models.CauseFailThreshold}}
		if diff := cmp.Diff(want, out.Evictions); diff != "" {
			t.Errorf("Evictions mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestReconcileMissResetsOnReturn(t *testing.T) {
	e := newTestEngine(nil)
	p := Policy{FailThreshold: 2}
	a := rawURL("a", 1)

	h := e.Reconcile(context.Background(), []string{a}, models.NewHistory(), p).History
	h = e.Reconcile(context.Background(), nil, h, p).History
	h = e.Reconcile(context.Background(), []string{a}, h, p).History
	h = e.Reconcile(context.Background(), nil, h, p).History
	if !contains(h.Active, a) || h.Fail[a] != 1 {
		t.Errorf("Active=%v Fail=%v, want a retained with one miss", h.Active, h.Fail)
	}
}

func TestReconcileDailyCap(t *testing.T) {
	e := newTestEngine(nil)
	old := rawURL("x", 0)
	prev := e.Reconcile(context.Background(), []string{old}, models.NewHistory(), Policy{FailThreshold: 3}).History

	var fresh []string
	for i := 1; i <= 5; i++ {
		fresh = append(fresh, rawURL(fmt.Sprintf("o%d", i), i))
	}
	out := e.Reconcile(context.Background(), append([]string{old}, fresh...), prev, Policy{DailyIncrement: 3, FailThreshold: 3})

	if diff := cmp.Diff(append([]string{old}, fresh[:3]...), out.Active); diff != "" {
		t.Errorf("Active mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(fresh[3:], out.Deferred); diff != "" {
		t.Errorf("Deferred mismatch (-want +got):\n%s", diff)
	}
	for _, u := range fresh[3:] {
		if contains(out.History.Active, u) || contains(out.History.Reserve, u) {
			t.Errorf("%s persisted, want dropped", u)
		}
		if _, ok := out.History.ResourceKeys[u]; ok {
			t.Errorf("%s has a resource key, want none", u)
		}
	}
}

func TestReconcileUnlimitedAdmission(t *testing.T) {
	e := newTestEngine(nil)
	valid := []string{rawURL("a", 1), rawURL("b", 1), rawURL("a", 1), ""}
	out := e.Reconcile(context.Background(), valid, models.NewHistory(), Policy{FailThreshold: 3})
	if diff := cmp.Diff([]string{rawURL("a", 1), rawURL("b", 1)}, out.Active); diff != "" {
		t.Errorf("Active mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcilePerOwnerCompaction(t *testing.T) {
	stamps := map[string]int64{}
	var valid []string
	for i := 1; i <= 8; i++ {
		u := rawURL("prolific", i)
		valid = append(valid, u)
		stamps[u] = int64(1600000000 + i*1000)
	}
	valid = append(valid, rawURL("quiet", 1))
	sampler := &fakeSampler{stamps: stamps}
	e := newTestEngine(sampler)

	out := e.Reconcile(context.Background(), valid, models.NewHistory(), Policy{FailThreshold: 3, PerOwnerLimit: 5})

	want := []string{
		rawURL("prolific", 4), rawURL("prolific", 5), rawURL("prolific", 6),
		rawURL("prolific", 7), rawURL("prolific", 8), rawURL("quiet", 1),
	}
	if diff := cmp.Diff(want, out.Active); diff != "" {
		t.Errorf("Active mismatch (-want +got):\n%s", diff)
	}
	wantReserve := []string{rawURL("prolific", 1), rawURL("prolific", 2), rawURL("prolific", 3)}
	if diff := cmp.Diff(wantReserve, out.History.Reserve); diff != "" {
		t.Errorf("Reserve mismatch (-want +got):\n%s", diff)
	}
	for _, u := range sampler.asked {
		if u == rawURL("quiet", 1) {
			t.Errorf("sampled %s, want only crowded owners sampled", u)
		}
	}
	if got := out.History.ResourceKeys[rawURL("prolific", 8)].Freshness(); got != 1600008000 {
		t.Errorf("cached freshness = %d, want 1600008000", got)
	}
	for _, ev := range out.Evictions {
		if ev.Cause != models.CauseOwnerQuota || ev.OwnerKey != "prolific/repo" {
			t.Errorf("eviction = %+v, want owner_quota for prolific/repo", ev)
		}
	}
}

func TestReconcileCompactionTiesKeepOrder(t *testing.T) {
	e := newTestEngine(&fakeSampler{})
	var valid []string
	for i := 1; i <= 4; i++ {
		valid = append(valid, rawURL("p", i))
	}
	out := e.Reconcile(context.Background(), valid, models.NewHistory(), Policy{FailThreshold: 3, PerOwnerLimit: 2})
	if diff := cmp.Diff(valid[:2], out.Active); diff != "" {
		t.Errorf("Active mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcileReserveNotReadmitted(t *testing.T) {
	e := newTestEngine(nil)
	prev := models.NewHistory()
	prev.Reserve = []string{rawURL("a", 1)}
	out := e.Reconcile(context.Background(), []string{rawURL("a", 1), rawURL("b", 1)}, prev, Policy{FailThreshold: 3})
	if diff := cmp.Diff([]string{rawURL("b", 1)}, out.Active); diff != "" {
		t.Errorf("Active mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{rawURL("a", 1)}, out.History.Reserve); diff != "" {
		t.Errorf("Reserve mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcileUsesCachedIdentityAndHints(t *testing.T) {
	e := newTestEngine(&fakeSampler{})
	prev := models.NewHistory()
	u1, u2, u3 := "https://example.com/s/1", "https://example.com/s/2", "https://other.example/s/3"
	prev.Active = []string{u1, u2}
	prev.ResourceKeys[u1] = models.ResourceKey{OwnerKey: "shared", BasePath: "/s/1"}
	prev.ResourceKeys[u2] = models.ResourceKey{OwnerKey: "shared", BasePath: "/s/2"}

	p := Policy{FailThreshold: 3, PerOwnerLimit: 2, Hints: map[string]string{u3: "shared"}}
	out := e.Reconcile(context.Background(), []string{u1, u2, u3}, prev, p)
	if diff := cmp.Diff([]string{u1, u2}, out.Active); diff != "" {
		t.Errorf("Active mismatch (-want +got):\n%s", diff)
	}
	if got := out.History.ResourceKeys[u3].OwnerKey; got != "shared" {
		t.Errorf("owner of reserved link = %q, want %q", got, "shared")
	}
}

func TestReconcileDoesNotMutateInput(t *testing.T) {
	e := newTestEngine(nil)
	prev := models.NewHistory()
	prev.Active = []string{rawURL("a", 1)}
	e.Reconcile(context.Background(), nil, prev, Policy{FailThreshold: 3})
	if len(prev.Fail) != 0 {
		t.Errorf("input Fail = %v, want untouched", prev.Fail)
	}
}

func TestRunCorruptStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	if err := os.WriteFile(path, []byte(`{"seen": [`), 0o644); err != nil {
		t.Fatal(err)
	}
	store := history.NewFileStore(path, false, false, nil)
	e := newTestEngine(nil)

	valid := []string{rawURL("a", 1), rawURL("b", 2)}
	out := e.Run(context.Background(), store, valid, Policy{FailThreshold: 3})
	if diff := cmp.Diff(valid, out.Active); diff != "" {
		t.Errorf("Active mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(valid, out.Admitted); diff != "" {
		t.Errorf("Admitted mismatch (-want +got):\n%s", diff)
	}

	saved, err := store.Load()
	if err != nil {
		t.Fatalf("Load() after Run error = %v", err)
	}
	if diff := cmp.Diff(valid, saved.Active); diff != "" {
		t.Errorf("saved Active mismatch (-want +got):\n%s", diff)
	}
	if saved.LastTotal != 2 || saved.UpdatedAt != 1700000000 {
		t.Errorf("saved LastTotal=%d UpdatedAt=%d, want 2 and 1700000000", saved.LastTotal, saved.UpdatedAt)
	}
}

type failingStore struct {
	exported []string
}

func (s *failingStore) Load() (models.History, error) { return models.NewHistory(), nil }
func (s *failingStore) Save(models.History) error     { return errors.New("disk full") }
func (s *failingStore) ExportReserve(reserve []string) (string, error) {
	s.exported = reserve
	return "", nil
}

func TestRunSaveFailureStillReturns(t *testing.T) {
	e := newTestEngine(nil)
	out := e.Run(context.Background(), &failingStore{}, []string{rawURL("a", 1)}, Policy{FailThreshold: 3})
	if out.SaveErr == nil {
		t.Errorf("SaveErr = nil, want disk full")
	}
	if diff := cmp.Diff([]string{rawURL("a", 1)}, out.Active); diff != "" {
		t.Errorf("Active mismatch (-want +got):\n%s", diff)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
