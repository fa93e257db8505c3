package lookup

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/depscan/pkg/errors"
	"github.com/matzehuels/depscan/pkg/manifest"
	"github.com/matzehuels/depscan/pkg/registry"
)

// fakeLooker answers from a table; unknown names are not found.
type fakeLooker struct {
	mu       sync.Mutex
	infos    map[string]registry.Info
	panics   map[string]bool
	gates    map[string]chan struct{}
	calls    atomic.Int32
	useCache []bool
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeLooker) Lookup(ctx context.Context, req manifest.Request, useCache bool) (*registry.Info, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.useCache = append(f.useCache, useCache)
	gate := f.gates[req.Name]
	info, ok := f.infos[req.Name]
	shouldPanic := f.panics[req.Name]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if shouldPanic {
		panic("boom")
	}
	if !ok {
		return nil, errors.New(errors.ErrCodePackageNotFound, "package %q not found", req.Name)
	}
	return &info, nil
}

func newFake() *fakeLooker {
	return &fakeLooker{
		infos: map[string]registry.Info{
			"react":      {Description: "UI library", Version: "18.2.0"},
			"lodash":     {Description: "Utilities", Version: "4.17.21"},
			"typescript": {Description: "Typed JS", Version: "5.3.3"},
			"left-pad":   {Description: "String left pad", Version: "1.3.0"},
			"cached-pkg": {Description: "From cache", Cached: true},
		},
		panics: map[string]bool{},
		gates:  map[string]chan struct{}{},
	}
}

func newTestOrchestrator(f Looker, opts ...Option) *Orchestrator {
	opts = append([]Option{WithLogger(log.New(io.Discard))}, opts...)
	return New(f, opts...)
}

func TestSubmit_FreeText(t *testing.T) {
	o := newTestOrchestrator(newFake())

	if err := o.Submit(context.Background(), "react, lodash"); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	s := o.Snapshot()
	if s.Phase != PhaseSettled || s.Loading {
		t.Errorf("phase = %s loading = %v, want settled and not loading", s.Phase, s.Loading)
	}
	if len(s.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(s.Results))
	}
	want := []Result{
		{Name: "react", Kind: manifest.KindDependency, Description: "UI library", Version: "18.2.0", Status: StatusLoaded},
		{Name: "lodash", Kind: manifest.KindDependency, Description: "Utilities", Version: "4.17.21", Status: StatusLoaded},
	}
	for i, w := range want {
		g := s.Results[i]
		if g.Name != w.Name || g.Kind != w.Kind || g.Description != w.Description || g.Version != w.Version || g.Status != w.Status {
			t.Errorf("result[%d] = %+v, want %+v", i, g, w)
		}
	}
	if s.SubmissionID == "" || s.Generation != 1 {
		t.Errorf("submission id %q generation %d", s.SubmissionID, s.Generation)
	}
}

func TestSubmit_Structured(t *testing.T) {
	o := newTestOrchestrator(newFake())
	input := `{"dependencies":{"react":"^18.0.0","lodash":"^3.0.0"},"devDependencies":{"typescript":"latest"}}`

	if err := o.Submit(context.Background(), input); err != nil {
		t.Fatal(err)
	}
	s := o.Snapshot()
	if len(s.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(s.Results))
	}

	react, lodash, ts := s.Results[0], s.Results[1], s.Results[2]
	if react.Satisfies == nil || !*react.Satisfies {
		t.Errorf("react 18.2.0 should satisfy ^18.0.0, got %v", react.Satisfies)
	}
	if lodash.Satisfies == nil || *lodash.Satisfies {
		t.Errorf("lodash 4.17.21 should not satisfy ^3.0.0, got %v", lodash.Satisfies)
	}
	if ts.Kind != manifest.KindDevDependency || ts.Satisfies != nil {
		t.Errorf("typescript = %+v, want devDependency with unknown satisfaction", ts)
	}

	c := s.Counts()
	if c.All != 3 || c.Dependencies != 2 || c.DevDependencies != 1 || c.Pending != 0 {
		t.Errorf("Counts() = %+v", c)
	}
	if got := s.ByKind(manifest.KindDevDependency); len(got) != 1 || got[0].Name != "typescript" {
		t.Errorf("ByKind(dev) = %+v", got)
	}
}

func TestSubmit_FailureIsolation(t *testing.T) {
	f := newFake()
	f.panics["exploding"] = true
	o := newTestOrchestrator(f)

	if err := o.Submit(context.Background(), "react this-does-not-exist-xyz exploding lodash"); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	s := o.Snapshot()
	if len(s.Results) != 4 {
		t.Fatalf("results = %d, want 4", len(s.Results))
	}
	for _, r := range s.Results {
		if r.Status == StatusPending {
			t.Errorf("%s still pending after settle", r.Name)
		}
	}

	missing := s.Results[1]
	if missing.Status != StatusError || missing.Code != errors.ErrCodePackageNotFound {
		t.Errorf("missing = %+v", missing)
	}
	if missing.Description != `Error: package "this-does-not-exist-xyz" not found` {
		t.Errorf("missing description = %q", missing.Description)
	}
	if s.Results[2].Status != StatusError || s.Results[2].Code != errors.ErrCodeInternal {
		t.Errorf("panicking lookup = %+v, want internal error row", s.Results[2])
	}
	if s.Results[0].Status != StatusLoaded || s.Results[3].Status != StatusLoaded {
		t.Error("siblings of failing lookups should load")
	}
	if s.Counts().Errors != 2 {
		t.Errorf("Counts().Errors = %d", s.Counts().Errors)
	}
}

func TestSubmit_EmptyInput(t *testing.T) {
	o := newTestOrchestrator(newFake())
	_ = o.Submit(context.Background(), "react")
	before := o.Snapshot()

	err := o.Submit(context.Background(), "  \n\t ")
	if !errors.Is(err, errors.ErrCodeEmptyInput) {
		t.Fatalf("error = %v, want EMPTY_INPUT", err)
	}

	after := o.Snapshot()
	if after.Err != "Please enter package names or paste a package.json file" {
		t.Errorf("Err = %q", after.Err)
	}
	if after.Generation != before.Generation || len(after.Results) != len(before.Results) || after.Input != before.Input {
		t.Error("empty input should leave results and generation untouched")
	}
}

func TestSubmit_NoDependencies(t *testing.T) {
	f := newFake()
	o := newTestOrchestrator(f)

	for _, input := range []string{"{}", `{"name":"x"}`, "[1,2]", ",,,"} {
		err := o.Submit(context.Background(), input)
		if !errors.Is(err, errors.ErrCodeNoDependencies) {
			t.Errorf("Submit(%q) error = %v, want NO_DEPENDENCIES_FOUND", input, err)
		}
		s := o.Snapshot()
		if s.Phase != PhaseIdle || s.Loading || len(s.Results) != 0 {
			t.Errorf("Submit(%q) state = %s", input, s)
		}
		if s.Err != "No dependencies found in input" {
			t.Errorf("Err = %q", s.Err)
		}
	}
	if f.calls.Load() != 0 {
		t.Error("no lookups should run without requests")
	}
}

func TestSubmit_ClearsPreviousError(t *testing.T) {
	o := newTestOrchestrator(newFake())
	_ = o.Submit(context.Background(), "")
	_ = o.Submit(context.Background(), "react")
	if s := o.Snapshot(); s.Err != "" {
		t.Errorf("Err = %q, want cleared", s.Err)
	}
}

func TestSubmit_PendingPlaceholders(t *testing.T) {
	f := newFake()
	gate := make(chan struct{})
	f.gates["react"] = gate

	var mu sync.Mutex
	var pending []Snapshot
	o := newTestOrchestrator(f, WithObserver(func(s Snapshot) {
		if s.Phase == PhasePending {
			mu.Lock()
			pending = append(pending, s)
			mu.Unlock()
		}
	}))

	done := make(chan error)
	go func() { done <- o.Submit(context.Background(), "react lodash") }()

	waitFor(t, func() bool {
		s := o.Snapshot()
		return len(s.Results) == 2 && s.Results[1].Status == StatusLoaded
	})
	s := o.Snapshot()
	if !s.Loading || s.Results[0].Status != StatusPending || s.Results[0].Description != LoadingDescription {
		t.Errorf("react should still be loading: %+v", s.Results[0])
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(pending) == 0 {
		t.Fatal("observer never saw the pending phase")
	}
	first := pending[0]
	for _, r := range first.Results {
		if r.Status != StatusPending || r.Description != LoadingDescription {
			t.Errorf("first pending snapshot row = %+v", r)
		}
	}
}

func TestSubmit_StaleGenerationDiscarded(t *testing.T) {
	f := newFake()
	gate := make(chan struct{})
	f.gates["react"] = gate
	o := newTestOrchestrator(f)

	first := make(chan error)
	go func() { first <- o.Submit(context.Background(), "react") }()
	waitFor(t, func() bool { return o.Snapshot().Phase == PhasePending })

	if err := o.Submit(context.Background(), "lodash"); err != nil {
		t.Fatal(err)
	}

	close(gate)
	if err := <-first; err != nil {
		t.Fatal(err)
	}

	s := o.Snapshot()
	if s.Generation != 2 || s.Phase != PhaseSettled || s.Loading {
		t.Errorf("state = %s, want generation 2 settled", s)
	}
	if len(s.Results) != 1 || s.Results[0].Name != "lodash" {
		t.Errorf("results = %+v, want only lodash", s.Results)
	}
}

func TestSubmit_UseCacheFlag(t *testing.T) {
	f := newFake()
	o := newTestOrchestrator(f)

	o.SetUseCache(false)
	_ = o.Submit(context.Background(), "react")
	o.SetUseCache(true)
	_ = o.Submit(context.Background(), "cached-pkg")

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.useCache) != 2 || f.useCache[0] || !f.useCache[1] {
		t.Errorf("useCache per call = %v, want [false true]", f.useCache)
	}
	if r := o.Snapshot().Results[0]; !r.Cached || r.Version != "" {
		t.Errorf("cached result = %+v", r)
	}
}

func TestSubmit_Concurrency(t *testing.T) {
	f := newFake()
	o := newTestOrchestrator(f, WithConcurrency(1))
	if err := o.Submit(context.Background(), "react lodash typescript left-pad"); err != nil {
		t.Fatal(err)
	}
	if got := f.maxSeen.Load(); got != 1 {
		t.Errorf("max in flight = %d, want 1", got)
	}
}

func TestSubmitCurrent(t *testing.T) {
	o := newTestOrchestrator(newFake())
	o.SetInput("lodash")
	if err := o.SubmitCurrent(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r := o.Snapshot().Results; len(r) != 1 || r[0].Name != "lodash" {
		t.Errorf("results = %+v", r)
	}
}

func TestFiltered(t *testing.T) {
	o := newTestOrchestrator(newFake())
	_ = o.Submit(context.Background(), "react lodash left-pad")

	if got := o.Filtered(); len(got) != 3 {
		t.Errorf("Filtered() without search = %d rows, want 3", len(got))
	}

	o.SetSearch("lodash")
	got := o.Filtered()
	if len(got) == 0 || got[0].Name != "lodash" {
		t.Errorf("Filtered(lodash) = %+v", got)
	}
	if len(o.Snapshot().Results) != 3 {
		t.Error("search must not change the underlying results")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	o := newTestOrchestrator(newFake())
	_ = o.Submit(context.Background(), "react")

	s := o.Snapshot()
	s.Results[0].Name = "mutated"
	if o.Snapshot().Results[0].Name != "react" {
		t.Error("Snapshot should return a copy of the results")
	}
}

func TestSatisfies(t *testing.T) {
	tests := []struct {
		constraint, version string
		want          *bool
	}{
		{"^18.0.0", "18.2.0", ptr(true)},
		{"~1.2.0", "1.3.0", ptr(false)},
		{">=1.0.0 <2.0.0", "1.5.0", ptr(true)},
		{"*", "3.0.0", ptr(true)},
		{"latest", "1.0.0", nil},
		{"github:user/repo", "1.0.0", nil},
		{"^1.0.0", "", nil},
		{"", "1.0.0", nil},
	}
	for _, tt := range tests {
		got := satisfies(tt.constraint, tt.version)
		if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
			t.Errorf("satisfies(%q, %q) = %v, want %v", tt.constraint, tt.version, deref(got), deref(tt.want))
		}
	}
}

func ptr(b bool) *bool { return &b }

func deref(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStart_ReturnsBeforeSettling(t *testing.T) {
	f := newFake()
	gate := make(chan struct{})
	f.gates["react"] = gate
	o := newTestOrchestrator(f)

	sub, err := o.Start(context.Background(), "react lodash")
	if err != nil {
		t.Fatal(err)
	}
	if sub.ID == "" || sub.Generation != 1 || sub.Packages != 2 {
		t.Errorf("submission = %+v", sub)
	}
	s := o.Snapshot()
	if s.SubmissionID != sub.ID || len(s.Results) != 2 || s.Results[0].Status != StatusPending {
		t.Errorf("snapshot after Start = %s", s)
	}

	select {
	case <-sub.Done():
		t.Fatal("submission finished while react was gated")
	default:
	}

	close(gate)
	sub.Wait()
	if s := o.Snapshot(); s.Phase != PhaseSettled || s.Loading {
		t.Errorf("state = %s, want settled", s)
	}
}

func TestStart_Errors(t *testing.T) {
	o := newTestOrchestrator(newFake())
	if _, err := o.Start(context.Background(), "  "); !errors.Is(err, errors.ErrCodeEmptyInput) {
		t.Errorf("blank input error = %v", err)
	}
	if _, err := o.Start(context.Background(), `{"name":"x"}`); !errors.Is(err, errors.ErrCodeNoDependencies) {
		t.Errorf("no deps error = %v", err)
	}
}
