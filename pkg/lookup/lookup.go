// Package lookup runs one registry lookup per manifest entry and keeps the
// observable state that front ends render.
//
// A submission parses the input, publishes one Pending row per package, and
// starts every lookup concurrently. Each finished lookup replaces its own row
// exactly once. Lookups never cancel each other: a failing package becomes an
// Error row while its siblings keep going.
//
// Every submission bumps a generation counter. Results that arrive for an
// older generation are discarded, so a slow lookup from a previous paste can
// never overwrite the current table.
package lookup

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/depscan/pkg/errors"
	"github.com/matzehuels/depscan/pkg/manifest"
	"github.com/matzehuels/depscan/pkg/observability"
	"github.com/matzehuels/depscan/pkg/registry"
)

const (
	msgEmptyInput     = "Please enter package names or paste a package.json file"
	msgNoDependencies = "No dependencies found in input"
)

// Looker fetches metadata for one package. *registry.Client implements it.
type Looker interface {
	Lookup(ctx context.Context, req manifest.Request, useCache bool) (*registry.Info, error)
}

// Orchestrator owns the lookup state. It is safe for concurrent use.
type Orchestrator struct {
	client      Looker
	logger      *log.Logger
	concurrency int
	observers   []func(Snapshot)

	mu    sync.Mutex
	state Snapshot

	notifyMu sync.Mutex
	lastSent uint64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithConcurrency caps the number of lookups in flight. Zero or less starts
// every lookup at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = n }
}

// WithObserver registers fn to receive a snapshot after every state change.
// Snapshots arrive in revision order; an observer may be skipped past a
// snapshot that was superseded before it could be delivered.
func WithObserver(fn func(Snapshot)) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.observers = append(o.observers, fn)
		}
	}
}

// New creates an orchestrator with caching enabled and an empty table.
func New(client Looker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client: client,
		logger: log.Default(),
		state: Snapshot{
			Phase:    PhaseIdle,
			UseCache: true,
			Results:  []Result{},
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.clone()
}

// Filtered returns the current results matching the search query.
func (o *Orchestrator) Filtered() []Result { return o.Snapshot().Filtered() }

// ByKind returns the current results of one kind.
func (o *Orchestrator) ByKind(kind manifest.Kind) []Result { return o.Snapshot().ByKind(kind) }

// Counts tallies the current results.
func (o *Orchestrator) Counts() Counts { return o.Snapshot().Counts() }

// SetInput stores the raw input text without submitting it.
func (o *Orchestrator) SetInput(input string) {
	o.update(func(s *Snapshot) { s.Input = input })
}

// SetSearch stores the filter query.
func (o *Orchestrator) SetSearch(q string) {
	o.update(func(s *Snapshot) { s.Search = q })
}

// SetUseCache toggles whether the next submission may read cached entries.
func (o *Orchestrator) SetUseCache(v bool) {
	o.update(func(s *Snapshot) { s.UseCache = v })
}

// SubmitCurrent submits the stored input.
func (o *Orchestrator) SubmitCurrent(ctx context.Context) error {
	return o.Submit(ctx, o.Snapshot().Input)
}

// Submit parses input, looks up every package and blocks until all lookups
// have settled. Blank input and input without packages return coded errors
// (EMPTY_INPUT, NO_DEPENDENCIES_FOUND); per-package failures are recorded
// on their rows and do not fail the submission.
func (o *Orchestrator) Submit(ctx context.Context, input string) error {
	sub, err := o.Start(ctx, input)
	if err != nil {
		return err
	}
	sub.Wait()
	return nil
}

// Submission is a started submission whose lookups may still be running.
type Submission struct {
	ID         string
	Generation uint64
	Packages   int

	done chan struct{}
}

// Done is closed once every lookup of the submission has finished.
func (s *Submission) Done() <-chan struct{} { return s.done }

// Wait blocks until every lookup has finished.
func (s *Submission) Wait() { <-s.done }

// Start is Submit without the wait: input is parsed and the Pending rows are
// published before it returns, the lookups run in the background.
func (o *Orchestrator) Start(ctx context.Context, input string) (*Submission, error) {
	if strings.TrimSpace(input) == "" {
		err := errors.New(errors.ErrCodeEmptyInput, msgEmptyInput)
		o.update(func(s *Snapshot) { s.Err = err.Message })
		return nil, err
	}

	start := time.Now()
	sub := &Submission{ID: uuid.NewString(), done: make(chan struct{})}
	var useCache bool
	o.update(func(s *Snapshot) {
		s.Generation++
		sub.Generation = s.Generation
		useCache = s.UseCache
		s.Input = input
		s.SubmissionID = sub.ID
		s.Results = []Result{}
		s.Err = ""
		s.Phase = PhaseSubmitting
		s.Loading = true
	})
	gen := sub.Generation

	reqs, err := parse(input)
	if err != nil {
		o.finish(gen, PhaseIdle, errors.UserMessage(err))
		return nil, err
	}
	if len(reqs) == 0 {
		err := errors.New(errors.ErrCodeNoDependencies, msgNoDependencies)
		o.finish(gen, PhaseIdle, err.Message)
		return nil, err
	}
	sub.Packages = len(reqs)

	o.logger.Debug("submitting", "packages", len(reqs), "generation", gen, "cache", useCache)
	o.update(func(s *Snapshot) {
		if s.Generation != gen {
			return
		}
		s.Results = make([]Result, len(reqs))
		for i, r := range reqs {
			s.Results[i] = pendingResult(r)
		}
		s.Phase = PhasePending
	})
	observability.Lookup().OnSubmit(ctx, gen, len(reqs))

	go func() {
		defer close(sub.done)
		var g errgroup.Group
		if o.concurrency > 0 {
			g.SetLimit(o.concurrency)
		}
		for i, req := range reqs {
			g.Go(func() error {
				o.run(ctx, gen, i, req, useCache)
				return nil
			})
		}
		_ = g.Wait()

		o.finish(gen, PhaseSettled, "")
		elapsed := time.Since(start)
		observability.Lookup().OnSettled(ctx, gen, elapsed)
		o.logger.Debug("settled", "generation", gen, "elapsed", elapsed)
	}()
	return sub, nil
}

// finish ends a submission if it is still the current one.
func (o *Orchestrator) finish(gen uint64, phase Phase, msg string) {
	o.update(func(s *Snapshot) {
		if s.Generation != gen {
			return
		}
		s.Phase = phase
		s.Loading = false
		if msg != "" {
			s.Err = msg
		}
	})
}

func (o *Orchestrator) run(ctx context.Context, gen uint64, i int, req manifest.Request, useCache bool) {
	start := time.Now()
	info, err := o.lookup(ctx, req, useCache)

	res := Result{Name: req.Name, Kind: req.Kind, Specifier: req.Specifier}
	if err != nil {
		msg := errors.UserMessage(err)
		res.Status = StatusError
		res.Description = "Error: " + msg
		res.Err = msg
		res.Code = errors.GetCode(err)
		o.logger.Debug("lookup failed", "name", req.Name, "err", err)
	} else {
		res.Status = StatusLoaded
		res.Description = info.Description
		res.Version = info.Version
		res.Cached = info.Cached
		res.Satisfies = satisfies(req.Specifier, info.Version)
	}
	observability.Lookup().OnLookupComplete(ctx, req.Name, string(res.Status), res.Cached, time.Since(start))

	stale := false
	o.update(func(s *Snapshot) {
		if s.Generation != gen || i >= len(s.Results) || s.Results[i].Name != req.Name {
			stale = true
			return
		}
		s.Results[i] = res
	})
	if stale {
		o.logger.Debug("discarding stale result", "name", req.Name, "generation", gen)
	}
}

// lookup calls the client and turns a panic into an error for this row only.
func (o *Orchestrator) lookup(ctx context.Context, req manifest.Request, useCache bool) (info *registry.Info, err error) {
	defer func() {
		if r := recover(); r != nil {
			info, err = nil, errors.New(errors.ErrCodeInternal, "lookup of %q failed: %v", req.Name, r)
		}
	}()
	info, err = o.client.Lookup(ctx, req, useCache)
	if err == nil && info == nil {
		err = errors.New(errors.ErrCodeInternal, "lookup of %q returned no data", req.Name)
	}
	return info, err
}

// update mutates the state under the lock and notifies observers.
func (o *Orchestrator) update(fn func(s *Snapshot)) {
	o.mu.Lock()
	o.state.Revision++
	fn(&o.state)
	snap := o.state.clone()
	o.mu.Unlock()

	o.notify(snap)
}

func (o *Orchestrator) notify(snap Snapshot) {
	if len(o.observers) == 0 {
		return
	}
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()
	if snap.Revision <= o.lastSent {
		return
	}
	o.lastSent = snap.Revision
	for _, fn := range o.observers {
		fn(snap)
	}
}

// parse turns input into requests. The parser does not fail on bad input,
// but a panic here must not take the process down.
func parse(input string) (reqs []manifest.Request, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.ErrCodeInternal, "Error processing input: %v", r)
		}
	}()
	return manifest.Requests(input), nil
}

// satisfies reports whether version is inside the specifier range. It
// returns nil for specifiers that are not semver ranges (tags, URLs,
// workspace protocols) and for unknown versions.
func satisfies(specifier, version string) *bool {
	if specifier == "" || version == "" {
		return nil
	}
	c, err := semver.NewConstraint(specifier)
	if err != nil {
		return nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil
	}
	ok := c.Check(v)
	return &ok
}

// String renders a one-line summary for logs.
func (s Snapshot) String() string {
	c := s.Counts()
	return fmt.Sprintf("gen=%d phase=%s results=%d pending=%d errors=%d", s.Generation, s.Phase, c.All, c.Pending, c.Errors)
}
